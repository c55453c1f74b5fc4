package mediawiki

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Namespaces holding user pages and user talk pages.
const userNamespaces = "2|3"

// userBatchSize is the list=users limit for non-bot accounts.
const userBatchSize = 50

// DefaultEditInterval is used when the account's edit rate limit is unknown.
const DefaultEditInterval = 1500 * time.Millisecond

// Caller issues authenticated wiki calls. *Authenticator implements it.
type Caller interface {
	Call(ctx context.Context, req Request) (*Response, error)
}

// Wiki wraps the read and write operations this tool needs.
type Wiki struct {
	caller Caller
}

func NewWiki(caller Caller) *Wiki {
	return &Wiki{caller: caller}
}

// User is one entry of a list=users lookup.
type User struct {
	Name    string
	UserID  int64
	Groups  []string
	Missing bool
	Invalid bool
}

// Exists reports whether the account is registered.
func (u User) Exists() bool { return !u.Missing && !u.Invalid && u.UserID > 0 }

// CategoryMembers returns the titles of user and user talk pages in category,
// following continuation until the listing is exhausted.
func (w *Wiki) CategoryMembers(ctx context.Context, category string) ([]string, error) {
	title := strings.TrimSpace(category)
	if !strings.HasPrefix(strings.ToLower(title), "category:") {
		title = "Category:" + title
	}
	params := url.Values{
		"action":      {"query"},
		"list":        {"categorymembers"},
		"cmtitle":     {title},
		"cmnamespace": {userNamespaces},
		"cmprop":      {"title"},
		"cmlimit":     {"max"},
	}

	var out []string
	err := w.paginate(ctx, "categorymembers", params, func(resp *Response) error {
		var page struct {
			Query struct {
				Members []struct {
					Title string `json:"title"`
				} `json:"categorymembers"`
			} `json:"query"`
		}
		if err := resp.Decode("categorymembers", &page); err != nil {
			return err
		}
		for _, m := range page.Query.Members {
			out = append(out, m.Title)
		}
		return nil
	})
	return out, err
}

// PageLinks returns the user and user talk pages linked from title, in the
// order the wiki lists them.
func (w *Wiki) PageLinks(ctx context.Context, title string) ([]string, error) {
	params := url.Values{
		"action":      {"query"},
		"prop":        {"links"},
		"titles":      {strings.TrimSpace(title)},
		"plnamespace": {userNamespaces},
		"pllimit":     {"max"},
	}

	var out []string
	found := false
	err := w.paginate(ctx, "links", params, func(resp *Response) error {
		var page struct {
			Query struct {
				Pages map[string]struct {
					Title   string  `json:"title"`
					Missing *string `json:"missing"`
					Links   []struct {
						Title string `json:"title"`
					} `json:"links"`
				} `json:"pages"`
			} `json:"query"`
		}
		if err := resp.Decode("links", &page); err != nil {
			return err
		}
		for _, p := range page.Query.Pages {
			if p.Missing != nil {
				return fmt.Errorf("page %q does not exist", title)
			}
			found = true
			for _, l := range p.Links {
				out = append(out, l.Title)
			}
		}
		return nil
	})
	if err == nil && !found {
		return nil, fmt.Errorf("page %q not returned", title)
	}
	return out, err
}

// paginate runs a query and follows the "continue" object until exhausted.
func (w *Wiki) paginate(ctx context.Context, op string, params url.Values, each func(*Response) error) error {
	params = cloneValues(params)
	params.Set("continue", "")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, err := w.caller.Call(ctx, Request{Op: op, Params: params})
		if err != nil {
			return err
		}
		if err := each(resp); err != nil {
			return err
		}
		var cont struct {
			Continue map[string]any `json:"continue"`
		}
		if err := resp.Decode(op, &cont); err != nil {
			return err
		}
		if len(cont.Continue) == 0 {
			return nil
		}
		for k, v := range cont.Continue {
			params.Set(k, fmt.Sprint(v))
		}
	}
}

// Users looks names up with list=users in batches of 50 and returns one entry
// per input name, in input order. Names the wiki does not know come back with
// Missing or Invalid set.
func (w *Wiki) Users(ctx context.Context, names []string, withGroups bool) ([]User, error) {
	out := make([]User, 0, len(names))
	for start := 0; start < len(names); start += userBatchSize {
		end := min(start+userBatchSize, len(names))
		batch := names[start:end]

		params := url.Values{
			"action":  {"query"},
			"list":    {"users"},
			"ususers": {strings.Join(batch, "|")},
		}
		if withGroups {
			params.Set("usprop", "groups")
		}
		resp, err := w.caller.Call(ctx, Request{Op: "users", Params: params})
		if err != nil {
			return nil, err
		}
		var page usersResponse
		if err := resp.Decode("users", &page); err != nil {
			return nil, err
		}

		byName := make(map[string]User, len(page.Query.Users))
		for _, u := range page.Query.Users {
			byName[u.Name] = User{
				Name:    u.Name,
				UserID:  u.UserID,
				Groups:  u.Groups,
				Missing: u.Missing != nil,
				Invalid: u.Invalid != nil,
			}
		}
		for _, n := range batch {
			u, ok := byName[n]
			if !ok {
				u = User{Name: n, Missing: true}
			}
			out = append(out, u)
		}
	}
	return out, nil
}

// EditInterval derives the minimum spacing between edits from the account's
// edit.user rate limit (seconds / hits). ok is false when no limit applies.
func (w *Wiki) EditInterval(ctx context.Context) (d time.Duration, ok bool, err error) {
	resp, err := w.caller.Call(ctx, Request{
		Op: "ratelimits",
		Params: url.Values{
			"action": {"query"},
			"meta":   {"userinfo"},
			"uiprop": {"ratelimits"},
		},
	})
	if err != nil {
		return 0, false, err
	}
	var out struct {
		Query struct {
			UserInfo struct {
				RateLimits map[string]map[string]struct {
					Hits    float64 `json:"hits"`
					Seconds float64 `json:"seconds"`
				} `json:"ratelimits"`
			} `json:"userinfo"`
		} `json:"query"`
	}
	if err := resp.Decode("ratelimits", &out); err != nil {
		return 0, false, err
	}
	lim, found := out.Query.UserInfo.RateLimits["edit"]["user"]
	if !found || lim.Hits <= 0 || lim.Seconds <= 0 {
		return 0, false, nil
	}
	return time.Duration(lim.Seconds / lim.Hits * float64(time.Second)), true, nil
}

// MessageWallsEnabled probes the UserProfile controller for userID and
// reports whether the wiki serves message walls instead of talk pages.
func (w *Wiki) MessageWallsEnabled(ctx context.Context, userID int64) (bool, error) {
	resp, err := w.caller.Call(ctx, Request{
		Op:       "wall probe",
		Endpoint: Nirvana,
		Params: url.Values{
			"controller": {"UserProfile"},
			"method":     {"getUserData"},
			"userId":     {strconv.FormatInt(userID, 10)},
		},
	})
	if err != nil {
		return false, err
	}
	var out struct {
		UserData *struct {
			MessageWallURL *string `json:"messageWallUrl"`
		} `json:"userData"`
	}
	if err := resp.Decode("wall probe", &out); err != nil {
		return false, err
	}
	return out.UserData != nil && out.UserData.MessageWallURL != nil, nil
}

// Parse renders wikitext to HTML with action=parse.
func (w *Wiki) Parse(ctx context.Context, wikitext string) (string, error) {
	resp, err := w.caller.Call(ctx, Request{
		Op:   "parse",
		Post: true,
		Params: url.Values{
			"action":             {"parse"},
			"text":               {wikitext},
			"contentmodel":       {"wikitext"},
			"prop":               {"text"},
			"disablelimitreport": {"1"},
			"wrapoutputclass":    {""},
		},
	})
	if err != nil {
		return "", err
	}
	var out struct {
		Parse struct {
			Text map[string]string `json:"text"`
		} `json:"parse"`
	}
	if err := resp.Decode("parse", &out); err != nil {
		return "", err
	}
	html, ok := out.Parse.Text["*"]
	if !ok {
		return "", fmt.Errorf("%w: parse text missing", ErrMalformedResponse)
	}
	return html, nil
}

// Revision is one entry of a page history.
type Revision struct {
	RevID     int64
	User      string
	Comment   string
	Timestamp time.Time
}

// RecentRevisions lists revisions of title made by user at or after since, newest first.
// A missing page yields no revisions.
func (w *Wiki) RecentRevisions(ctx context.Context, title, user string, since time.Time) ([]Revision, error) {
	resp, err := w.caller.Call(ctx, Request{
		Op: "revisions",
		Params: url.Values{
			"action":  {"query"},
			"prop":    {"revisions"},
			"titles":  {title},
			"rvprop":  {"ids|user|comment|timestamp"},
			"rvuser":  {user},
			"rvend":   {since.UTC().Format(time.RFC3339)},
			"rvlimit": {"10"},
		},
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Query struct {
			Pages map[string]struct {
				Missing   *string `json:"missing"`
				Revisions []struct {
					RevID     int64     `json:"revid"`
					User      string    `json:"user"`
					Comment   string    `json:"comment"`
					Timestamp time.Time `json:"timestamp"`
				} `json:"revisions"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := resp.Decode("revisions", &out); err != nil {
		return nil, err
	}
	var revs []Revision
	for _, p := range out.Query.Pages {
		if p.Missing != nil {
			continue
		}
		for _, r := range p.Revisions {
			revs = append(revs, Revision{RevID: r.RevID, User: r.User, Comment: r.Comment, Timestamp: r.Timestamp})
		}
	}
	return revs, nil
}

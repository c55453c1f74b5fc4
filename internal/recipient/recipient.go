// Package recipient expands a recipient spec (explicit names, categories or
// list pages) into an ordered, deduplicated set of wiki accounts.
package recipient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"fandomassenger/internal/mediawiki"
	logx "fandomassenger/pkg/logx"
)

// Spec selects the recipients of a run. Exactly one field is expected to be
// set; when several are, they are expanded in the order Users, Categories, Pages.
type Spec struct {
	Users      []string
	Categories []string
	Pages      []string
}

// Kind names the populated source.
func (s Spec) Kind() string {
	switch {
	case len(s.Users) > 0:
		return "users"
	case len(s.Categories) > 0:
		return "categories"
	case len(s.Pages) > 0:
		return "pages"
	}
	return "none"
}

// Recipient is one target account.
type Recipient struct {
	Name   string `json:"name"`
	UserID int64  `json:"user_id,omitempty"`

	// Checked is true when the account was looked up on the wiki.
	// Exists is meaningful only when Checked.
	Checked bool `json:"checked,omitempty"`
	Exists  bool `json:"exists,omitempty"`
}

// Missing reports whether a lookup found no such account.
func (r Recipient) Missing() bool { return r.Checked && !r.Exists }

// TalkPage is the title of the recipient's user talk page.
func (r Recipient) TalkPage() string { return "User talk:" + r.Name }

// ResolutionError means the recipient set could not be produced.
type ResolutionError struct {
	Source string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Source == "" {
		return "resolve recipients: " + e.Err.Error()
	}
	return fmt.Sprintf("resolve recipients (%s): %v", e.Source, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

var ErrEmpty = errors.New("no recipients left after normalization")

// Source is the wiki surface the resolver reads from. *mediawiki.Wiki implements it.
type Source interface {
	CategoryMembers(ctx context.Context, category string) ([]string, error)
	PageLinks(ctx context.Context, title string) ([]string, error)
	Users(ctx context.Context, names []string, withGroups bool) ([]mediawiki.User, error)
}

type Resolver struct {
	src      Source
	operator string
	log      logx.Logger

	// Lookup enables the list=users existence check.
	Lookup bool
}

// NewResolver returns a resolver that drops operator (bot-password suffix
// ignored) from every set it produces.
func NewResolver(src Source, operator string, log logx.Logger) *Resolver {
	return &Resolver{
		src:      src,
		operator: Normalize(operator),
		Lookup:   true,
		log:      log.With(logx.String("comp", "recipient")),
	}
}

// Resolve expands spec. Order is the order names appear in the sources;
// the first occurrence of a name wins.
func (r *Resolver) Resolve(ctx context.Context, spec Spec) ([]Recipient, error) {
	var raw []string
	raw = append(raw, spec.Users...)

	for _, c := range spec.Categories {
		members, err := r.src.CategoryMembers(ctx, c)
		if err != nil {
			return nil, &ResolutionError{Source: "category " + c, Err: err}
		}
		r.log.Debug("category expanded", logx.String("category", c), logx.Int("members", len(members)))
		raw = append(raw, members...)
	}
	for _, p := range spec.Pages {
		links, err := r.src.PageLinks(ctx, p)
		if err != nil {
			return nil, &ResolutionError{Source: "page " + p, Err: err}
		}
		r.log.Debug("list page expanded", logx.String("page", p), logx.Int("links", len(links)))
		raw = append(raw, links...)
	}

	names := Dedup(raw)
	out := make([]Recipient, 0, len(names))
	self := 0
	for _, n := range names {
		if r.operator != "" && n == r.operator {
			self++
			continue
		}
		out = append(out, Recipient{Name: n})
	}
	if len(out) == 0 {
		return nil, &ResolutionError{Source: spec.Kind(), Err: ErrEmpty}
	}

	if r.Lookup {
		if err := r.lookup(ctx, out); err != nil {
			return nil, &ResolutionError{Source: "user lookup", Err: err}
		}
	}

	r.log.Info("recipients resolved",
		logx.String("source", spec.Kind()),
		logx.Int("raw", len(raw)),
		logx.Int("resolved", len(out)),
		logx.Int("self_removed", self),
	)
	return out, nil
}

func (r *Resolver) lookup(ctx context.Context, rs []Recipient) error {
	names := make([]string, len(rs))
	for i, rc := range rs {
		names[i] = rc.Name
	}
	users, err := r.src.Users(ctx, names, false)
	if err != nil {
		return err
	}
	if len(users) != len(rs) {
		return fmt.Errorf("user lookup returned %d entries for %d names", len(users), len(rs))
	}
	missing := 0
	for i, u := range users {
		rs[i].Checked = true
		rs[i].Exists = u.Exists()
		rs[i].UserID = u.UserID
		if !rs[i].Exists {
			missing++
		}
	}
	if missing > 0 {
		r.log.Warn("some recipients do not exist", logx.Int("missing", missing))
	}
	return nil
}

// Dedup normalizes names and keeps the first occurrence of each. Names that
// normalize to nothing are dropped.
func Dedup(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, raw := range names {
		n := Normalize(raw)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

var namespacePrefixes = []string{"User talk:", "User:", "Message Wall:"}

// Normalize turns a user name or user-page title into the canonical account
// name: namespace prefix and subpage removed, underscores to spaces,
// whitespace collapsed, first letter upper-cased. A bot-password suffix
// ("Name@Bot") is dropped.
func Normalize(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "_", " "))
	for _, p := range namespacePrefixes {
		if len(s) >= len(p) && strings.EqualFold(s[:len(p)], p) {
			s = s[len(p):]
			break
		}
	}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '@'); i > 0 {
		s = s[:i]
	}
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

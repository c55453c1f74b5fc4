package mediawiki

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	logx "fandomassenger/pkg/logx"
)

// Session is the identity behind the current login.
type Session struct {
	// Name is the account name reported by the wiki (without the bot-password suffix).
	Name    string
	UserID  int64
	Groups  []string
	LoginAt time.Time
}

// HasAnyGroup reports whether the session holds at least one of groups.
// An empty groups list is always satisfied.
func (s *Session) HasAnyGroup(groups []string) bool {
	if len(groups) == 0 {
		return true
	}
	for _, g := range groups {
		if slices.Contains(s.Groups, g) {
			return true
		}
	}
	return false
}

// Authenticator logs in with a bot password and attaches the session to calls.
type Authenticator struct {
	client   *Client
	username string
	password string
	log      logx.Logger

	mu      sync.Mutex
	session *Session
	csrf    string
}

func NewAuthenticator(client *Client, username, password string, log logx.Logger) *Authenticator {
	return &Authenticator{
		client:   client,
		username: strings.TrimSpace(username),
		password: password,
		log:      log.With(logx.String("comp", "auth")),
	}
}

// Client returns the underlying HTTP client.
func (a *Authenticator) Client() *Client { return a.client }

// Session returns a copy of the current session, or nil before Login.
func (a *Authenticator) Session() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil
	}
	cp := *a.session
	cp.Groups = append([]string(nil), a.session.Groups...)
	return &cp
}

// Login performs the login-token / action=login handshake, loads the account
// groups and fetches a CSRF token. Any failure is an *AuthError.
func (a *Authenticator) Login(ctx context.Context) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.loginLocked(ctx); err != nil {
		return nil, err
	}
	cp := *a.session
	return &cp, nil
}

func (a *Authenticator) loginLocked(ctx context.Context) error {
	a.session = nil
	a.csrf = ""

	lgtoken, err := a.token(ctx, "login")
	if err != nil {
		return &AuthError{Op: "login token", Err: err}
	}

	resp, err := a.client.Do(ctx, Request{
		Op:   "login",
		Post: true,
		Params: url.Values{
			"action":     {"login"},
			"lgname":     {a.username},
			"lgpassword": {a.password},
			"lgtoken":    {lgtoken},
		},
	})
	if err != nil {
		return &AuthError{Op: "login", Err: err}
	}
	var out struct {
		Login struct {
			Result   string `json:"result"`
			Reason   string `json:"reason"`
			UserID   int64  `json:"lguserid"`
			Username string `json:"lgusername"`
		} `json:"login"`
	}
	if err := resp.Decode("login", &out); err != nil {
		return &AuthError{Op: "login", Err: err}
	}
	if out.Login.Result != "Success" {
		reason := out.Login.Reason
		if reason == "" {
			reason = out.Login.Result
		}
		return &AuthError{Op: "login", Err: fmt.Errorf("%w: %s", ErrLoginRejected, reason)}
	}
	if !sameUser(out.Login.Username, accountName(a.username)) {
		return &AuthError{Op: "login", Err: fmt.Errorf("%w: %q", ErrWrongUser, out.Login.Username)}
	}

	groups, err := a.groups(ctx, out.Login.Username)
	if err != nil {
		return &AuthError{Op: "user groups", Err: err}
	}
	csrf, err := a.token(ctx, "csrf")
	if err != nil {
		return &AuthError{Op: "csrf token", Err: err}
	}

	a.session = &Session{
		Name:    out.Login.Username,
		UserID:  out.Login.UserID,
		Groups:  groups,
		LoginAt: time.Now(),
	}
	a.csrf = csrf
	a.log.Info("logged in",
		logx.String("user", a.session.Name),
		logx.Int64("user_id", a.session.UserID),
		logx.Strs("groups", groups),
	)
	return nil
}

func (a *Authenticator) token(ctx context.Context, kind string) (string, error) {
	params := url.Values{"action": {"query"}, "meta": {"tokens"}}
	if kind != "csrf" {
		params.Set("type", kind)
	}
	resp, err := a.client.Do(ctx, Request{Op: kind + " token", Params: params})
	if err != nil {
		return "", err
	}
	var out struct {
		Query struct {
			Tokens map[string]string `json:"tokens"`
		} `json:"query"`
	}
	if err := resp.Decode(kind+" token", &out); err != nil {
		return "", err
	}
	tok := out.Query.Tokens[kind+"token"]
	if tok == "" {
		return "", fmt.Errorf("%w: no %s token", ErrMalformedResponse, kind)
	}
	return tok, nil
}

func (a *Authenticator) groups(ctx context.Context, name string) ([]string, error) {
	resp, err := a.client.Do(ctx, Request{
		Op: "user groups",
		Params: url.Values{
			"action":  {"query"},
			"list":    {"users"},
			"ususers": {name},
			"usprop":  {"groups"},
		},
	})
	if err != nil {
		return nil, err
	}
	var out usersResponse
	if err := resp.Decode("user groups", &out); err != nil {
		return nil, err
	}
	if len(out.Query.Users) == 0 {
		return nil, fmt.Errorf("%w: user %q not listed", ErrMalformedResponse, name)
	}
	return out.Query.Users[0].Groups, nil
}

// RequireGroups fails with an *AuthError when the logged-in account holds none of groups.
func (a *Authenticator) RequireGroups(groups []string) error {
	s := a.Session()
	if s == nil {
		return &AuthError{Op: "rights check", Err: errNoSession}
	}
	if !s.HasAnyGroup(groups) {
		return &AuthError{
			Op:  "rights check",
			Err: fmt.Errorf("%w: need one of %s, have %s", ErrInsufficientRights, strings.Join(groups, ", "), strings.Join(s.Groups, ", ")),
		}
	}
	return nil
}

// Call issues req with the session attached. Action API calls carry
// assert=user; writes also carry the CSRF token. When the wiki reports an
// expired session, Call logs in again once and retries the call once. A second
// session failure (or a failed re-login) is returned as an *AuthError.
func (a *Authenticator) Call(ctx context.Context, req Request) (*Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session == nil {
		if err := a.loginLocked(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := a.client.Do(ctx, a.attach(req))
	if err == nil || !IsSessionExpired(err) {
		return resp, err
	}

	a.log.Warn("session expired; logging in again", logx.String("op", req.Op), logx.Err(err))
	if lerr := a.loginLocked(ctx); lerr != nil {
		return nil, lerr
	}
	resp, err = a.client.Do(ctx, a.attach(req))
	if err != nil && IsSessionExpired(err) {
		return nil, &AuthError{Op: "reauthenticate", Err: err}
	}
	return resp, err
}

func (a *Authenticator) attach(req Request) Request {
	req.Params = cloneValues(req.Params)
	if req.Endpoint == ActionAPI {
		req.Params.Set("assert", "user")
	}
	if req.Write {
		req.Params.Set("token", a.csrf)
	}
	return req
}

// accountName strips the bot-password suffix ("Name@BotName" -> "Name").
func accountName(username string) string {
	if i := strings.LastIndex(username, "@"); i > 0 {
		return username[:i]
	}
	return username
}

func sameUser(a, b string) bool {
	norm := func(s string) string {
		s = strings.TrimSpace(strings.ReplaceAll(s, "_", " "))
		if s == "" {
			return s
		}
		r, size := utf8.DecodeRuneInString(s)
		return string(unicode.ToUpper(r)) + s[size:]
	}
	return norm(a) == norm(b)
}

type usersResponse struct {
	Query struct {
		Users []struct {
			UserID  int64    `json:"userid"`
			Name    string   `json:"name"`
			Groups  []string `json:"groups"`
			Missing *string  `json:"missing"`
			Invalid *string  `json:"invalid"`
		} `json:"users"`
	} `json:"query"`
}

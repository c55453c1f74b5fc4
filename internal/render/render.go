// Package render fills message templates per recipient.
//
// Recognized placeholders:
//
//	$USERNAME  recipient account name
//	$USERID    recipient user id (empty when unknown)
//	$TALKPAGE  "User talk:<name>"
//	$WIKI      wiki name given to the template
//
// Any other "$..." text is left as written.
package render

import (
	"slices"
	"strconv"
	"strings"

	"fandomassenger/internal/recipient"
)

// Template is an immutable subject/body pair.
type Template struct {
	Subject string
	Body    string
	// Wiki fills $WIKI.
	Wiki string
}

// RenderedMessage is a template filled for one recipient.
type RenderedMessage struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Placeholders lists the recognized placeholder names.
var Placeholders = []string{"$USERNAME", "$USERID", "$TALKPAGE", "$WIKI"}

// Render substitutes all recognized placeholders in t for r. It has no side
// effects and returns byte-identical output for identical inputs.
func Render(t Template, r recipient.Recipient) RenderedMessage {
	uid := ""
	if r.UserID > 0 {
		uid = strconv.FormatInt(r.UserID, 10)
	}
	// Matched in argument order; no placeholder may be a prefix of an earlier one.
	rep := strings.NewReplacer(
		"$USERNAME", r.Name,
		"$USERID", uid,
		"$TALKPAGE", r.TalkPage(),
		"$WIKI", t.Wiki,
	)
	return RenderedMessage{
		Subject: rep.Replace(t.Subject),
		Body:    rep.Replace(t.Body),
	}
}

// Unknown returns the "$NAME" tokens in s that are not recognized
// placeholders, in order of first appearance.
func Unknown(s string) []string {
	var out []string
	seen := map[string]bool{}
	for i := 0; i < len(s); i++ {
		if s[i] != '$' {
			continue
		}
		j := i + 1
		for j < len(s) && (s[j] >= 'A' && s[j] <= 'Z' || s[j] == '_') {
			j++
		}
		if j == i+1 {
			continue
		}
		tok := s[i:j]
		i = j - 1
		if slices.Contains(Placeholders, tok) || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}


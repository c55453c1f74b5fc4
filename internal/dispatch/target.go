package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"fandomassenger/internal/mediawiki"
	"fandomassenger/internal/recipient"
	"fandomassenger/internal/render"
)

// TargetKind names a posting surface.
type TargetKind string

const (
	TargetTalkPage    TargetKind = "talk"
	TargetMessageWall TargetKind = "wall"
)

// Target modes accepted by SelectTarget.
const (
	ModeAuto = "auto"
	ModeTalk = "talk"
	ModeWall = "wall"
)

// Poster delivers one rendered message to one recipient.
//
// Post returns nil on confirmed success, or an error already classified into
// the dispatch taxonomy. Confirm checks whether a post whose outcome was lost
// has landed since the given time; it returns ErrUnverifiable when the
// surface cannot tell.
type Poster interface {
	Kind() TargetKind
	Post(ctx context.Context, r recipient.Recipient, msg render.RenderedMessage) error
	Confirm(ctx context.Context, r recipient.Recipient, msg render.RenderedMessage, since time.Time) (bool, error)
}

// TalkPagePoster appends a new section to the recipient's user talk page.
type TalkPagePoster struct {
	wiki     *mediawiki.Wiki
	operator string
}

func NewTalkPagePoster(wiki *mediawiki.Wiki, operator string) *TalkPagePoster {
	return &TalkPagePoster{wiki: wiki, operator: operator}
}

func (p *TalkPagePoster) Kind() TargetKind { return TargetTalkPage }

func (p *TalkPagePoster) Post(ctx context.Context, r recipient.Recipient, msg render.RenderedMessage) error {
	_, err := p.wiki.NewSection(ctx, r.TalkPage(), msg.Subject, msg.Body)
	return classify(err, TargetTalkPage, true)
}

// Confirm looks for an edit by the operator since since whose summary names
// the section.
func (p *TalkPagePoster) Confirm(ctx context.Context, r recipient.Recipient, msg render.RenderedMessage, since time.Time) (bool, error) {
	revs, err := p.wiki.RecentRevisions(ctx, r.TalkPage(), p.operator, since)
	if err != nil {
		return false, classify(err, TargetTalkPage, false)
	}
	marker := "/* " + msg.Subject + " */"
	for _, rev := range revs {
		if strings.Contains(rev.Comment, marker) {
			return true, nil
		}
	}
	return false, nil
}

// MessageWallPoster starts a new thread on the recipient's message wall.
type MessageWallPoster struct {
	wiki     *mediawiki.Wiki
	operator int64

	mu    sync.Mutex
	model map[string]string
}

func NewMessageWallPoster(wiki *mediawiki.Wiki, operatorID int64) *MessageWallPoster {
	return &MessageWallPoster{wiki: wiki, operator: operatorID, model: map[string]string{}}
}

func (p *MessageWallPoster) Kind() TargetKind { return TargetMessageWall }

func (p *MessageWallPoster) Post(ctx context.Context, r recipient.Recipient, msg render.RenderedMessage) error {
	if r.UserID <= 0 {
		return &PermanentRequestError{Reason: ReasonInvalidTarget, Err: errors.New("message wall needs the recipient user id")}
	}
	model, err := p.jsonModel(ctx, msg.Body)
	if err != nil {
		return err
	}
	th, err := p.wiki.CreateWallThread(ctx, r.UserID, msg.Subject, model)
	if err != nil {
		return classify(err, TargetMessageWall, true)
	}
	if p.operator > 0 && th.CreatedBy > 0 && th.CreatedBy != p.operator {
		return &UnknownOutcomeError{Err: &TransientRequestError{
			Reason: ReasonServerError,
			Err:    fmt.Errorf("thread %s created by user %d, expected %d", th.ID, th.CreatedBy, p.operator),
		}}
	}
	return nil
}

// Confirm always returns ErrUnverifiable: walls expose no history lookup for
// threads by author.
func (p *MessageWallPoster) Confirm(context.Context, recipient.Recipient, render.RenderedMessage, time.Time) (bool, error) {
	return false, ErrUnverifiable
}

func (p *MessageWallPoster) jsonModel(ctx context.Context, body string) (string, error) {
	p.mu.Lock()
	m, ok := p.model[body]
	p.mu.Unlock()
	if ok {
		return m, nil
	}

	html, err := p.wiki.Parse(ctx, body)
	if err != nil {
		return "", classify(err, TargetMessageWall, false)
	}
	m, err = mediawiki.HTMLToJSONModel(html)
	if err != nil {
		return "", &PermanentRequestError{Reason: ReasonRejected, Err: err}
	}

	p.mu.Lock()
	if len(p.model) >= 256 {
		clear(p.model)
	}
	p.model[body] = m
	p.mu.Unlock()
	return m, nil
}

// SelectTarget builds the poster for mode. ModeAuto probes whether the wiki
// serves message walls for the operator account.
func SelectTarget(ctx context.Context, mode string, wiki *mediawiki.Wiki, session *mediawiki.Session) (Poster, error) {
	if session == nil {
		return nil, errors.New("select target: no session")
	}
	switch mode {
	case ModeTalk:
		return NewTalkPagePoster(wiki, session.Name), nil
	case ModeWall:
		return NewMessageWallPoster(wiki, session.UserID), nil
	case ModeAuto, "":
		walls, err := wiki.MessageWallsEnabled(ctx, session.UserID)
		if err != nil {
			return nil, fmt.Errorf("select target: %w", err)
		}
		if walls {
			return NewMessageWallPoster(wiki, session.UserID), nil
		}
		return NewTalkPagePoster(wiki, session.Name), nil
	}
	return nil, fmt.Errorf("select target: unknown mode %q", mode)
}

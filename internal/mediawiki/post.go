package mediawiki

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const wallAttachments = `{"contentImages":[],"openGraphs":[],"atMentions":[]}`

// EditResult is a successful action=edit response.
type EditResult struct {
	Title    string
	PageID   int64
	NewRevID int64
}

// NewSection appends a new section to title with action=edit&section=new.
// A response whose edit.result is not "Success" (captcha, abuse filter) is an
// *APIError with the result as code.
func (w *Wiki) NewSection(ctx context.Context, title, subject, text string) (EditResult, error) {
	resp, err := w.caller.Call(ctx, Request{
		Op:    "edit",
		Post:  true,
		Write: true,
		Params: url.Values{
			"action":       {"edit"},
			"title":        {title},
			"section":      {"new"},
			"sectiontitle": {subject},
			"text":         {text},
		},
	})
	if err != nil {
		return EditResult{}, err
	}
	var out struct {
		Edit *struct {
			Result   string `json:"result"`
			Title    string `json:"title"`
			PageID   int64  `json:"pageid"`
			NewRevID int64  `json:"newrevid"`
			Info     string `json:"info"`
		} `json:"edit"`
	}
	if err := resp.Decode("edit", &out); err != nil {
		return EditResult{}, err
	}
	if out.Edit == nil {
		return EditResult{}, &DecodeError{Op: "edit", Err: fmt.Errorf("%w: no edit object", ErrMalformedResponse)}
	}
	if out.Edit.Result != "Success" {
		return EditResult{}, &APIError{Code: "edit" + strings.ToLower(out.Edit.Result), Info: out.Edit.Info, HTTPStatus: resp.StatusCode}
	}
	return EditResult{Title: out.Edit.Title, PageID: out.Edit.PageID, NewRevID: out.Edit.NewRevID}, nil
}

// WallThread is a created message-wall thread.
type WallThread struct {
	ID        string
	CreatedBy int64
}

// CreateWallThread starts a thread on ownerID's message wall. jsonModel is
// the ProseMirror document produced by HTMLToJSONModel.
func (w *Wiki) CreateWallThread(ctx context.Context, ownerID int64, title, jsonModel string) (WallThread, error) {
	resp, err := w.caller.Call(ctx, Request{
		Op:       "createThread",
		Endpoint: Nirvana,
		Post:     true,
		Write:    true,
		Query: url.Values{
			"controller": {`Fandom\MessageWall\MessageWall`},
			"method":     {"createThread"},
		},
		Params: url.Values{
			"title":       {title},
			"wallOwnerId": {strconv.FormatInt(ownerID, 10)},
			"jsonModel":   {jsonModel},
			"attachments": {wallAttachments},
		},
	})
	if err != nil {
		return WallThread{}, err
	}
	var out struct {
		ID        json.Number `json:"id"`
		CreatedBy *struct {
			ID json.Number `json:"id"`
		} `json:"createdBy"`
	}
	if err := resp.Decode("createThread", &out); err != nil {
		return WallThread{}, err
	}
	if out.ID == "" {
		return WallThread{}, &DecodeError{Op: "createThread", Err: fmt.Errorf("%w: no thread id", ErrMalformedResponse)}
	}
	th := WallThread{ID: out.ID.String()}
	if out.CreatedBy != nil {
		th.CreatedBy, _ = out.CreatedBy.ID.Int64()
	}
	return th, nil
}

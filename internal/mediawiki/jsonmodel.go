package mediawiki

import (
	"encoding/json"
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// Message walls take their body as a ProseMirror document ("jsonModel").
// Only paragraphs, plain text and links are produced; other markup is
// flattened to its text.

type pmDoc struct {
	Type    string   `json:"type"`
	Content []pmNode `json:"content"`
}

type pmNode struct {
	Type    string   `json:"type"`
	Text    string   `json:"text,omitempty"`
	Marks   []pmMark `json:"marks,omitempty"`
	Content []pmNode `json:"content,omitempty"`
}

type pmMark struct {
	Type  string            `json:"type"`
	Attrs map[string]string `json:"attrs"`
}

var blockTags = map[string]bool{
	"div": true, "ul": true, "ol": true, "li": true, "dl": true, "dd": true, "dt": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"pre": true, "blockquote": true, "table": true, "tr": true,
}

// HTMLToJSONModel converts parser output HTML to a jsonModel string.
func HTMLToJSONModel(src string) (string, error) {
	doc := pmDoc{Type: "doc", Content: []pmNode{}}

	var (
		para     *pmNode
		link     *pmMark
		linkText strings.Builder
	)
	closePara := func() {
		if para != nil {
			doc.Content = append(doc.Content, *para)
			para = nil
		}
	}
	openPara := func() {
		closePara()
		para = &pmNode{Type: "paragraph"}
	}
	addText := func(n pmNode) {
		if n.Text == "" {
			return
		}
		if para == nil {
			if strings.TrimSpace(n.Text) == "" {
				return
			}
			openPara()
		}
		para.Content = append(para.Content, n)
	}
	closeLink := func() {
		if link == nil {
			return
		}
		addText(pmNode{Type: "text", Text: linkText.String(), Marks: []pmMark{*link}})
		link = nil
		linkText.Reset()
	}

	z := html.NewTokenizer(strings.NewReader(src))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return "", err
			}
			closeLink()
			closePara()
			b, err := json.Marshal(doc)
			if err != nil {
				return "", err
			}
			return string(b), nil

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			switch {
			case tag == "p":
				closeLink()
				openPara()
			case tag == "a":
				closeLink()
				link = &pmMark{Type: "link", Attrs: map[string]string{}}
				for hasAttr {
					var k, v []byte
					k, v, hasAttr = z.TagAttr()
					switch string(k) {
					case "href", "title":
						link.Attrs[string(k)] = string(v)
					}
				}
			case blockTags[tag]:
				closeLink()
				closePara()
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case tag == "a":
				closeLink()
			case tag == "p", blockTags[tag]:
				closeLink()
				closePara()
			}

		case html.TextToken:
			text := string(z.Text())
			if link != nil {
				linkText.WriteString(text)
				continue
			}
			addText(pmNode{Type: "text", Text: text})
		}
	}
}

package render

import (
	"strings"
	"testing"

	"fandomassenger/internal/recipient"
)

func TestRender(t *testing.T) {
	t.Parallel()
	tpl := Template{
		Subject: "Hello $USERNAME",
		Body:    "Hi $USERNAME ($USERID), see [[$TALKPAGE]] on $WIKI. Cost: $5, $UNKNOWN stays.",
		Wiki:    "Eizen Wiki",
	}
	r := recipient.Recipient{Name: "Alice Smith", UserID: 42}

	got := Render(tpl, r)
	if got.Subject != "Hello Alice Smith" {
		t.Fatalf("Subject = %q", got.Subject)
	}
	want := "Hi Alice Smith (42), see [[User talk:Alice Smith]] on Eizen Wiki. Cost: $5, $UNKNOWN stays."
	if got.Body != want {
		t.Fatalf("Body = %q, want %q", got.Body, want)
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	t.Parallel()
	tpl := Template{Subject: "$USERNAME", Body: strings.Repeat("$USERNAME $WIKI ", 50), Wiki: "W"}
	r := recipient.Recipient{Name: "Bob"}
	a, b := Render(tpl, r), Render(tpl, r)
	if a != b {
		t.Fatal("Render is not deterministic")
	}
}

func TestRenderDoesNotRescanSubstitutions(t *testing.T) {
	t.Parallel()
	tpl := Template{Subject: "$USERNAME", Wiki: "Wiki"}
	got := Render(tpl, recipient.Recipient{Name: "$WIKI"})
	if got.Subject != "$WIKI" {
		t.Fatalf("Subject = %q", got.Subject)
	}
}

func TestRenderUnknownUserID(t *testing.T) {
	t.Parallel()
	got := Render(Template{Body: "[$USERID]"}, recipient.Recipient{Name: "Carol"})
	if got.Body != "[]" {
		t.Fatalf("Body = %q", got.Body)
	}
}

func TestUnknown(t *testing.T) {
	t.Parallel()
	got := Unknown("$USERNAME $NAME $5 $NAME $WIKI $TEAM_LEAD")
	if strings.Join(got, ",") != "$NAME,$TEAM_LEAD" {
		t.Fatalf("Unknown = %v", got)
	}
}

package feed

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func TestParseCommentCountExtractsLeadingDigits(t *testing.T) {
	cases := map[string]int{
		"42 comments":  42,
		"1 comment":    1,
		"comment":      0,
		"":             0,
		"128 comments": 128,
	}
	for in, want := range cases {
		if got := parseCommentCount(in); got != want {
			t.Errorf("parseCommentCount(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParsePostExtractsTitleAuthorAndBody(t *testing.T) {
	html := `<div class="thing">
		<a class="title">Weeknight Chili</a>
		<a class="author">chefuser</a>
		<a class="comments">12 comments</a>
		<div class="usertext-body">Brown the beef, add beans, simmer.</div>
	</div>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	event, ok := parsePost(doc.Find("div.thing").First())
	if !ok {
		t.Fatal("expected parsePost to succeed")
	}
	if event.Title != "Weeknight Chili" {
		t.Errorf("expected title parsed, got %q", event.Title)
	}
	if event.Author != "chefuser" {
		t.Errorf("expected author parsed, got %q", event.Author)
	}
	if event.NumComments != 12 {
		t.Errorf("expected 12 comments, got %d", event.NumComments)
	}
	if event.CharCount != len(event.Text) {
		t.Errorf("expected char count to match ascii body length, got %d vs %d", event.CharCount, len(event.Text))
	}
}

func TestParsePostRejectsMissingTitle(t *testing.T) {
	html := `<div class="thing"><div class="usertext-body">no title here</div></div>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := parsePost(doc.Find("div.thing").First()); ok {
		t.Error("expected parsePost to reject a post with no title")
	}
}

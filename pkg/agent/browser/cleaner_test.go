package browser

import (
	"strings"
	"testing"
)

func TestCleanHTML(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		maxLength int
		wantTitle string
		wantDesc  string
		wantHTML  []string // substrings that should be present
		wantNot   []string // substrings that should NOT be present
		truncated bool
	}{
		{
			name: "script and style removal",
			input: `<html>
				<head>
					<title>Quotes to Scrape</title>
					<meta name="description" content="A list of quotes">
					<script>alert('evil');</script>
					<style>body { color: red; }</style>
				</head>
				<body>
					<h1 id="main-title">Quotes</h1>
					<p class="intro">The world as we have created it.</p>
				</body>
			</html>`,
			maxLength: 10000,
			wantTitle: "Quotes to Scrape",
			wantDesc:  "A list of quotes",
			wantHTML:  []string{`<h1 id="main-title">`, "Quotes", `<p class="intro">`, "The world as we have created it."},
			wantNot:   []string{"<script>", "alert", "<style>", "color: red", "<title>"},
		},
		{
			name: "semantic structure kept",
			input: `<html><body>
				<header><nav><a href="/home">Home</a></nav></header>
				<main>
					<section id="content">
						<article><h2>Article Title</h2></article>
					</section>
				</main>
				<footer><p>Footer</p></footer>
			</body></html>`,
			maxLength: 10000,
			wantHTML:  []string{"<header>", "<nav>", `<a href="/home">`, "<main>", `<section id="content">`, "<article>", "<footer>"},
		},
		{
			name: "form attributes kept for targeting",
			input: `<html><body>
				<form action="/login" method="post">
					<input type="text" name="username" id="user" placeholder="Enter name" data-test="username-field" style="width:10px">
					<button type="submit" class="btn-primary" onclick="go()">Submit</button>
				</form>
			</body></html>`,
			maxLength: 10000,
			wantHTML: []string{
				`<form action="/login" method="post">`,
				`name="username"`,
				`id="user"`,
				`placeholder="Enter name"`,
				`data-test="username-field"`,
				`class="btn-primary"`,
			},
			wantNot: []string{"style=", "onclick", "go()"},
		},
		{
			name: "noise elements removed",
			input: `<html><body>
				<div>Content</div>
				<script src="app.js"></script>
				<noscript>No JS</noscript>
				<iframe src="ad.html"></iframe>
				<svg><circle/></svg>
				<!-- a comment -->
			</body></html>`,
			maxLength: 10000,
			wantHTML:  []string{"<div>", "Content"},
			wantNot:   []string{"<script", "<noscript>", "<iframe", "<svg>", "No JS", "a comment"},
		},
		{
			name: "truncated at limit",
			input: `<html><body>
				<p>First paragraph with some content.</p>
				<p>Second paragraph with more content.</p>
				<p>Third paragraph that should be truncated.</p>
			</body></html>`,
			maxLength: 100,
			wantHTML:  []string{"First paragraph"},
			wantNot:   []string{"Third paragraph that should be truncated."},
			truncated: true,
		},
		{
			name: "void elements not closed",
			input: `<html><body>
				<img src="test.jpg" alt="Test image">
				<br>
				<input type="text" name="field">
				<hr>
			</body></html>`,
			maxLength: 10000,
			wantHTML:  []string{`<img src="test.jpg" alt="Test image">`, "<br>", `<input type="text" name="field">`, "<hr>"},
			wantNot:   []string{"</img>", "</br>", "</input>", "</hr>"},
		},
		{
			name:      "whitespace collapsed",
			input:     "<p>  spread\n\n   over\tlines  </p>",
			maxLength: 10000,
			wantHTML:  []string{"spread over lines"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := cleanHTML(tt.input, tt.maxLength)
			if err != nil {
				t.Fatalf("cleanHTML() error = %v", err)
			}

			if result.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", result.Title, tt.wantTitle)
			}

			if result.Description != tt.wantDesc {
				t.Errorf("Description = %q, want %q", result.Description, tt.wantDesc)
			}

			if result.Truncated != tt.truncated {
				t.Errorf("Truncated = %v, want %v", result.Truncated, tt.truncated)
			}

			for _, want := range tt.wantHTML {
				if !strings.Contains(result.HTML, want) {
					t.Errorf("HTML missing expected substring: %q\nGot: %s", want, result.HTML)
				}
			}

			for _, notWant := range tt.wantNot {
				if strings.Contains(result.HTML, notWant) {
					t.Errorf("HTML contains unwanted substring: %q\nGot: %s", notWant, result.HTML)
				}
			}
		})
	}
}

func TestKeepAttribute(t *testing.T) {
	tests := []struct {
		tag  string
		attr string
		want bool
	}{
		{"div", "id", true},
		{"div", "class", true},
		{"div", "style", false},
		{"div", "onclick", false},
		{"div", "data-price", true},
		{"span", "itemprop", true},
		{"a", "href", true},
		{"img", "src", true},
		{"img", "alt", true},
		{"input", "name", true},
		{"input", "placeholder", true},
		{"form", "action", true},
		{"form", "target", false},
		{"time", "datetime", true},
	}

	for _, tt := range tests {
		t.Run(tt.tag+"_"+tt.attr, func(t *testing.T) {
			if got := keepAttribute(tt.tag, tt.attr); got != tt.want {
				t.Errorf("keepAttribute(%q, %q) = %v, want %v", tt.tag, tt.attr, got, tt.want)
			}
		})
	}
}

/*
Copyright 2026 the baudrate authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package plain converts HTML to plain text, for excerpts and logs.
package plain

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// FromHTML converts HTML to plain text. Block elements become line
// breaks; everything else is dropped.
func FromHTML(s string) string {
	var b strings.Builder

	z := html.NewTokenizer(strings.NewReader(s))
loop:
	for {
		switch z.Next() {
		case html.ErrorToken:
			break loop

		case html.TextToken:
			b.Write(z.Text())

		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Br:
				b.WriteByte('\n')
			case atom.P, atom.Div, atom.Blockquote, atom.Pre, atom.Li, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
					b.WriteByte('\n')
				}
			}
		}
	}

	return strings.TrimSpace(b.String())
}

// Excerpt returns the first n runes of the text form of s, on one line.
func Excerpt(s string, n int) string {
	t := strings.Join(strings.Fields(FromHTML(s)), " ")

	runes := []rune(t)
	if len(runes) <= n {
		return t
	}

	return string(runes[:n-1]) + "…"
}

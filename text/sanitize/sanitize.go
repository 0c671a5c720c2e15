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

// Package sanitize reduces remote HTML to the subset baudrate renders.
package sanitize

import (
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

var policy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "hr",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"em", "strong", "del", "code", "pre", "blockquote",
		"ul", "ol", "li",
	)

	// microformat classes used by fediverse servers for mentions and
	// hashtags; everything else is stripped
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^(h-card|hashtag|mention|invisible|ellipsis)( (h-card|hashtag|mention|invisible|ellipsis))*$`)).OnElements("span", "a")
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^language-[a-zA-Z0-9_+-]+$`)).OnElements("code")

	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("https", "http")
	p.RequireNoFollowOnLinks(true)
	p.RequireNoReferrerOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.AllowAttrs("start").OnElements("ol")

	return p
}()

// HTML strips remote markup down to the allowed subset.
func HTML(s string) string {
	return policy.Sanitize(s)
}

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

package httpsig

import (
	"errors"
	"net/http"
	"net/textproto"
	"strings"
)

// buildSignatureString concatenates the signed headers into the string
// the signature covers: one "name: value" line per header, in the order
// they are listed in the headers attribute.
func buildSignatureString(r *http.Request, headers []string) (string, error) {
	lines := make([]string, 0, len(headers))

	for _, h := range headers {
		if h == "(request-target)" {
			lines = append(lines, "(request-target): "+strings.ToLower(r.Method)+" "+r.URL.Path)
			continue
		}

		if strings.HasPrefix(h, "(") {
			return "", errors.New("unsupported header: " + h)
		}

		values := r.Header[textproto.CanonicalMIMEHeaderKey(h)]
		if len(values) == 0 {
			return "", errors.New("unspecified header: " + h)
		}

		trimmed := make([]string, len(values))
		for i, v := range values {
			trimmed[i] = strings.TrimSpace(v)
		}

		lines = append(lines, strings.ToLower(h)+": "+strings.Join(trimmed, ", "))
	}

	return strings.Join(lines, "\n"), nil
}

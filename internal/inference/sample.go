/*
Copyright 2026 The llm-d Authors

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

package inference

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// SampleKeyPlaceholder stands in for the credential in rendered sample requests.
const SampleKeyPlaceholder = "YOUR_API_KEY_HERE"

// WriteSample renders the request that would be sent for question, with the credential
// replaced by SampleKeyPlaceholder, so it can be replayed by hand.
func (c *HTTPClient) WriteSample(w io.Writer, question string) error {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c.BuildPayload(question)); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "URL: %s?%s=%s\n\nHeaders:\nContent-Type: application/json\n\nRequest Body:\n%s",
		c.endpoint, credentialParam, SampleKeyPlaceholder, body.String())
	return err
}

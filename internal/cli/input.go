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

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

type inputFile struct {
	Questions []string `json:"questions"`
}

// LoadQuestions reads a {"questions": [...]} document. Order is preserved.
func LoadQuestions(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input %s: %w", path, err)
	}
	var in inputFile
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("invalid questions format in %s: %w", path, err)
	}
	if len(in.Questions) == 0 {
		return nil, errors.New("no questions found in " + path)
	}
	return in.Questions, nil
}

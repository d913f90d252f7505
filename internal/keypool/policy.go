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

package keypool

import (
	"math/rand/v2"
)

// Policy picks one credential out of the eligible set. eligible holds indexes into the
// pool's credential list and is never empty; the returned value must be one of them.
type Policy func(eligible []int, rnd *rand.Rand) int

// UniformRandom spreads concurrent callers over all eligible credentials instead of
// herding them onto the next one in order.
func UniformRandom(eligible []int, rnd *rand.Rand) int {
	return eligible[rnd.IntN(len(eligible))]
}

// NewSeededRand returns a deterministic source for tests and reproducible runs.
func NewSeededRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

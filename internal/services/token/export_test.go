// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package token

import "io"

// SetRandom replaces the randomness source for tests.
func (c *Codec) SetRandom(r io.Reader) {
	c.random = r
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"strings"
	"sync"

	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"
)

var initMatcher = sync.OnceFunc(func() { algo.Init("default") })

// MatchSpan reports where query occurs in text as a contiguous,
// case-insensitive substring. start and end are rune offsets into
// text, end exclusive. A blank query matches nothing.
func MatchSpan(text, query string) (start, end int, ok bool) {
	pattern := []rune(strings.ToLower(strings.TrimSpace(query)))
	if len(pattern) == 0 || text == "" {
		return 0, 0, false
	}
	initMatcher()
	chars := util.ToChars([]byte(text))
	result, _ := algo.ExactMatchNaive(false, false, true, &chars, pattern, false, nil)
	if result.Start < 0 || result.End <= result.Start {
		return 0, 0, false
	}
	return result.Start, result.End, true
}

// matches reports whether room passes the filter query: its display
// name or last message preview contains the query.
func matches(room Room, query string) bool {
	if _, _, ok := MatchSpan(room.DisplayName, query); ok {
		return true
	}
	_, _, ok := MatchSpan(room.LastMessagePreview, query)
	return ok
}

// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package core

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalize_StripsControlKeys(t *testing.T) {
	require := require.New(t)

	a := Canonicalize("/targets/foo", url.Values{"debug": {"true"}, "region": {"us-east"}})
	b := Canonicalize("/targets/foo", url.Values{"region": {"us-east"}})

	require.Equal(a, b)
}

func TestCanonicalize_SortsKeysAndValues(t *testing.T) {
	require := require.New(t)

	a := Canonicalize("/targets/foo", url.Values{"b": {"2", "1"}, "a": {"x"}})
	b := Canonicalize("/targets/foo", url.Values{"a": {"x"}, "b": {"1", "2"}})

	require.Equal(a, b)
}

func TestCanonicalize_DifferentArgsDifferentFingerprint(t *testing.T) {
	require := require.New(t)

	a := Canonicalize("/targets/foo", url.Values{"region": {"us-east"}})
	b := Canonicalize("/targets/foo", url.Values{"region": {"us-west"}})

	require.NotEqual(a, b)
}

func TestCanonicalize_NoQuery(t *testing.T) {
	require := require.New(t)

	require.Equal(Fingerprint("/targets/foo"), Canonicalize("/targets/foo", url.Values{}))
}

func TestIsControlKey(t *testing.T) {
	require := require.New(t)

	require.True(IsControlKey("debug"))
	require.True(IsControlKey("reload"))
	require.False(IsControlKey("region"))
}

func TestCacheExpiredError(t *testing.T) {
	require := require.New(t)

	err := &CacheExpiredError{UpdatedTimestamp: 100, TTLSeconds: 60}
	require.True(errors.Is(err, ErrCacheExpired))
	require.Contains(err.Error(), "cache expired")
}

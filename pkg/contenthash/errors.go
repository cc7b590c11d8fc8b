// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package contenthash

import "errors"

// ErrSizeChanged is returned when a file no longer has the size it was scanned with.
var ErrSizeChanged = errors.New("file size changed since scan")

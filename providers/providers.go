// Package providers registers every built-in provider with
// mediaresolve.DefaultProviderRegistry. Import it for its side effects:
//
//	import _ "github.com/grabtap/mediaresolve/providers"
package providers

import (
	_ "github.com/grabtap/mediaresolve/providers/douyin"
	_ "github.com/grabtap/mediaresolve/providers/easydl"
	_ "github.com/grabtap/mediaresolve/providers/qishui"
	_ "github.com/grabtap/mediaresolve/providers/spotify"
	_ "github.com/grabtap/mediaresolve/providers/tiktok"
	_ "github.com/grabtap/mediaresolve/providers/twitter"
	_ "github.com/grabtap/mediaresolve/providers/ytmp3"
)

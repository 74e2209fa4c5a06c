// Package useragent classifies click user agents into device, browser,
// operating system and bot buckets. Bot patterns live in an embedded YAML
// database (Matomo device-detector style) compiled lazily with PCRE; browser
// and OS detection uses ordered substring rules since the analytics rollups
// only need family-level names, not versions.
package useragent

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

// UserAgent is the classification result for one raw user agent string.
type UserAgent struct {
	UserAgent string
	OS        string
	Browser   string
	Device    string
	Bot       bool
	BotName   string
}

// Device buckets.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceUnknown = "unknown"
)

// Unknown values for browser/OS when nothing matches.
const (
	UnknownBrowser = "unknown"
	UnknownOS      = "unknown"
)

//go:embed database/bots.yml
var databaseFiles embed.FS

// botEntry mirrors one entry of database/bots.yml.
type botEntry struct {
	Regex    string `yaml:"regex"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
}

type compiledBot struct {
	regex *pcre.Regexp
	name  string
}

var (
	botsOnce sync.Once
	bots     []compiledBot
	botsErr  error
)

func loadBots() ([]compiledBot, error) {
	botsOnce.Do(func() {
		raw, err := databaseFiles.ReadFile("database/bots.yml")
		if err != nil {
			botsErr = fmt.Errorf("failed to read bots database: %w", err)
			return
		}

		var entries []botEntry
		if err := yaml.Unmarshal(raw, &entries); err != nil {
			botsErr = fmt.Errorf("failed to parse bots database: %w", err)
			return
		}

		compiled := make([]compiledBot, 0, len(entries))
		for _, entry := range entries {
			regex, err := pcre.Compile("(?i)" + entry.Regex)
			if err != nil {
				botsErr = fmt.Errorf("failed to compile bot pattern %q: %w", entry.Regex, err)
				return
			}
			compiled = append(compiled, compiledBot{regex: regex, name: entry.Name})
		}
		bots = compiled
	})
	return bots, botsErr
}

// Parse classifies a raw user agent string.
func Parse(rawUA string) UserAgent {
	result := UserAgent{
		UserAgent: rawUA,
		OS:        UnknownOS,
		Browser:   UnknownBrowser,
		Device:    DeviceUnknown,
	}
	if rawUA == "" {
		return result
	}

	if name, ok := matchBot(rawUA); ok {
		result.Bot = true
		result.BotName = name
		return result
	}

	result.OS = detectOS(rawUA)
	result.Browser = detectBrowser(rawUA)
	result.Device = detectDevice(rawUA, result.OS)
	return result
}

func matchBot(rawUA string) (string, bool) {
	compiled, err := loadBots()
	if err != nil {
		// A broken database must never make every visitor a bot.
		return "", false
	}
	for _, bot := range compiled {
		if bot.regex.MatchString(rawUA) {
			return bot.name, true
		}
	}
	return "", false
}

// detectOS returns a normalized operating system family name.
func detectOS(rawUA string) string {
	ua := strings.ToLower(rawUA)
	switch {
	case strings.Contains(ua, "iphone os") || strings.Contains(ua, "ipad") || strings.Contains(ua, "like mac os x"):
		return "iOS"
	case strings.Contains(ua, "android"):
		return "Android"
	case strings.Contains(ua, "windows"):
		return "Windows"
	case strings.Contains(ua, "mac os") || strings.Contains(ua, "macintosh") || strings.Contains(ua, "darwin"):
		return "MacOS"
	case strings.Contains(ua, "cros"):
		return "ChromeOS"
	case strings.Contains(ua, "linux"):
		return "Linux"
	default:
		return UnknownOS
	}
}

// detectBrowser returns a normalized browser family name. Order matters:
// Chrome's token appears inside Edge/Opera/Samsung UAs, Safari's inside
// Chrome's.
func detectBrowser(rawUA string) string {
	ua := strings.ToLower(rawUA)
	switch {
	case strings.Contains(ua, "edg/") || strings.Contains(ua, "edge/"):
		return "edge"
	case strings.Contains(ua, "opr/") || strings.Contains(ua, "opera"):
		return "opera"
	case strings.Contains(ua, "samsungbrowser"):
		return "samsung internet"
	case strings.Contains(ua, "firefox/") || strings.Contains(ua, "fxios/"):
		return "firefox"
	case strings.Contains(ua, "crios/") || strings.Contains(ua, "chrome/") || strings.Contains(ua, "chromium/"):
		return "chrome"
	case strings.Contains(ua, "safari/"):
		return "safari"
	case strings.Contains(ua, "msie") || strings.Contains(ua, "trident/"):
		return "ie"
	default:
		return UnknownBrowser
	}
}

func detectDevice(rawUA, os string) string {
	ua := strings.ToLower(rawUA)
	switch {
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		return DeviceTablet
	case strings.Contains(ua, "mobi") || strings.Contains(ua, "iphone") || os == "Android" && strings.Contains(ua, "android"):
		// Android tablets omit "Mobile"; they were caught by the tablet branch
		// only when they say so, everything else Android counts as mobile.
		if os == "Android" && !strings.Contains(ua, "mobile") {
			return DeviceTablet
		}
		return DeviceMobile
	case os == "Windows" || os == "MacOS" || os == "Linux" || os == "ChromeOS":
		return DeviceDesktop
	default:
		return DeviceUnknown
	}
}

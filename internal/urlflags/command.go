package urlflags

import (
	"fmt"
	"strings"
)

// Recognized page commands.
const (
	CommandCopyCookies   = "copy_cookies"
	CommandDeleteCookie  = "delete_cookie"
	CommandDeleteCookies = "delete_cookies"
)

// Command is a post-navigation action carried by the run-command flag.
type Command struct {
	Name     string `json:"name"`
	Value    string `json:"value,omitempty"`
	HasValue bool   `json:"has_value"`
}

// ParseCommand splits raw on its first '='. Everything after that first '='
// is kept verbatim, so "delete_cookies=prefix=test" has value "prefix=test".
func ParseCommand(raw string) Command {
	if raw == "" {
		return Command{}
	}
	name, value, found := strings.Cut(raw, "=")
	return Command{Name: name, Value: value, HasValue: found}
}

// IsZero reports whether no command was supplied.
func (c Command) IsZero() bool { return c.Name == "" && !c.HasValue }

// String renders the command back into its flag form.
func (c Command) String() string {
	if !c.HasValue {
		return c.Name
	}
	return c.Name + "=" + c.Value
}

// Validate checks the command against the recognized names.
func (c Command) Validate() error {
	switch c.Name {
	case CommandCopyCookies:
		return nil
	case CommandDeleteCookie, CommandDeleteCookies:
		if strings.TrimSpace(c.Value) == "" {
			return fmt.Errorf("command %s requires a value", c.Name)
		}
		return nil
	case "":
		return fmt.Errorf("command name is empty")
	default:
		return fmt.Errorf("unknown command %q", c.Name)
	}
}

// NeedsSettle reports whether the command should wait a moment after its tab
// is brought to front before running.
func (c Command) NeedsSettle() bool { return c.Name == CommandCopyCookies }

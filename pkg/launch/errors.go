package launch

import "fmt"

func missingVar(key string) error {
	return fmt.Errorf("launcher detected but %s is not set", key)
}

func invalidVar(key, value string, err error) error {
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return fmt.Errorf("invalid %s value %q", key, value)
}

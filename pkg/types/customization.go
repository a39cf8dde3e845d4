package types

import (
	"fmt"
	"strings"

	"github.com/lokalbazaar/lokalbazaar-backend/pkg/enums"
)

// Customization is the tagged per-line customization payload. Exactly the
// field matching Kind carries the value; the rest stay empty.
type Customization struct {
	Kind      enums.CustomizationKind `json:"kind"`
	Required  bool                    `json:"required"`
	Label     string                  `json:"label,omitempty"`
	Text      string                  `json:"text,omitempty"`
	Selected  string                  `json:"selected,omitempty"`
	ImageURLs []string                `json:"image_urls,omitempty"`
}

// Validate rejects a customization whose tagged value is absent while
// marked required. Runs before inventory reservation.
func (c Customization) Validate() error {
	if !c.Kind.IsValid() {
		return fmt.Errorf("customization: unknown kind %q", c.Kind)
	}
	if !c.Required {
		return nil
	}
	switch c.Kind {
	case enums.CustomizationKindText:
		if strings.TrimSpace(c.Text) == "" {
			return fmt.Errorf("customization %q: text value required", c.Label)
		}
	case enums.CustomizationKindSelect:
		if strings.TrimSpace(c.Selected) == "" {
			return fmt.Errorf("customization %q: selection required", c.Label)
		}
	case enums.CustomizationKindImageList:
		if len(c.ImageURLs) == 0 {
			return fmt.Errorf("customization %q: at least one image required", c.Label)
		}
	}
	return nil
}

// Customizations is the jsonb-serialized list stored on an order item.
type Customizations []Customization

// Validate checks every entry.
func (cs Customizations) Validate() error {
	for _, c := range cs {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

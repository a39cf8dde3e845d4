package enums

import "fmt"

// CustomizationKind tags the variant of a line-item customization payload.
type CustomizationKind string

const (
	CustomizationKindText      CustomizationKind = "text"
	CustomizationKindSelect    CustomizationKind = "select"
	CustomizationKindImageList CustomizationKind = "image_list"
)

var validCustomizationKinds = []CustomizationKind{
	CustomizationKindText,
	CustomizationKindSelect,
	CustomizationKindImageList,
}

// String implements fmt.Stringer.
func (c CustomizationKind) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CustomizationKind.
func (c CustomizationKind) IsValid() bool {
	for _, candidate := range validCustomizationKinds {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCustomizationKind converts raw input into a CustomizationKind.
func ParseCustomizationKind(value string) (CustomizationKind, error) {
	for _, candidate := range validCustomizationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid customization kind %q", value)
}

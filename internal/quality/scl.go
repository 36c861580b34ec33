// Package quality evaluates per-pixel fitness-for-use of a date's imagery
// from the scene classification (SCL) band.
package quality

import "fmt"

// SCL class codes of the Sentinel-2 L2A scene classification band.
const (
	SCLNoData           = 0
	SCLSaturatedDefect  = 1
	SCLDarkAreaPixels   = 2
	SCLCloudShadows     = 3
	SCLVegetation       = 4
	SCLNotVegetated     = 5
	SCLWater            = 6
	SCLUnclassified     = 7
	SCLCloudMediumProb  = 8
	SCLCloudHighProb    = 9
	SCLThinCirrus       = 10
	SCLSnowIce          = 11
)

var sclNames = map[int]string{
	SCLNoData:          "no data",
	SCLSaturatedDefect: "saturated or defective",
	SCLDarkAreaPixels:  "dark area pixels",
	SCLCloudShadows:    "cloud shadows",
	SCLVegetation:      "vegetation",
	SCLNotVegetated:    "not vegetated",
	SCLWater:           "water",
	SCLUnclassified:    "unclassified",
	SCLCloudMediumProb: "cloud medium probability",
	SCLCloudHighProb:   "cloud high probability",
	SCLThinCirrus:      "thin cirrus",
	SCLSnowIce:         "snow or ice",
}

// SCLName returns the human-readable name of a class code.
func SCLName(code int) string {
	if name, ok := sclNames[code]; ok {
		return name
	}
	return fmt.Sprintf("unknown class %d", code)
}

// ValidateSCLClasses checks a filter class list from configuration: codes
// must be in the 0-11 taxonomy, without duplicates.
func ValidateSCLClasses(codes []int) error {
	seen := make(map[int]bool, len(codes))
	for _, c := range codes {
		if c < SCLNoData || c > SCLSnowIce {
			return fmt.Errorf("SCL class %d out of range, must be between 0 and 11", c)
		}
		if seen[c] {
			return fmt.Errorf("duplicate SCL class %d", c)
		}
		seen[c] = true
	}
	return nil
}

// DefaultFilterClasses are the classes masked out when the user enables SCL
// masking without listing classes: cloud shadows, unclassified pixels, both
// cloud probability classes and thin cirrus.
func DefaultFilterClasses() []int {
	return []int{SCLCloudShadows, SCLUnclassified, SCLCloudMediumProb, SCLCloudHighProb, SCLThinCirrus}
}

package fusesnap

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Travel point kinds accepted by ParseTravelPoint.
const (
	TravelSnapshot  = "SNAPSHOT"
	TravelTimestamp = "TIMESTAMP"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTravelPoint turns the arguments of AT (SNAPSHOT => '...') or
// AT (TIMESTAMP => '...') into a TravelSpec. Timestamps without a zone are
// taken as UTC; an integer is read as unix seconds.
func ParseTravelPoint(kind, value string) (TravelSpec, error) {
	value = strings.TrimSpace(value)
	switch strings.ToUpper(strings.TrimSpace(kind)) {
	case TravelSnapshot:
		id, err := uuid.Parse(value)
		if err != nil {
			return TravelSpec{}, fmt.Errorf("%w: snapshot id %q: %v", ErrInvalidArgument, value, err)
		}
		return AtSnapshot(id), nil

	case TravelTimestamp:
		t, err := parseTimestamp(value)
		if err != nil {
			return TravelSpec{}, err
		}
		return AtTimestamp(t), nil

	default:
		return TravelSpec{}, fmt.Errorf("%w: unknown travel point %q", ErrInvalidArgument, kind)
	}
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", ErrInvalidArgument)
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized timestamp %q", ErrInvalidArgument, value)
}

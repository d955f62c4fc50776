// Package sequence issues human-readable business numbers of the form
// PREFIX-YYYYMMDD-NNNNN, one counter per prefix and calendar day.
package sequence

import (
	"context"
	"fmt"
	"regexp"
	"time"

	apperrors "github.com/louisbranch/freightdesk/internal/platform/errors"
)

// MaxPerDay is the largest counter value that fits the five-digit suffix.
const MaxPerDay = 99999

var numberPattern = regexp.MustCompile(`^[A-Z]{3}-\d{8}-[A-Z0-9]{5}$`)

// Counter atomically increments and returns the counter for a bucket.
// Implementations must never return the same value twice for a bucket.
type Counter interface {
	NextSequence(ctx context.Context, bucket string) (int64, error)
}

// Generator formats numbers from a Counter.
type Generator struct {
	counter  Counter
	location *time.Location
}

// NewGenerator returns a generator bucketing days in loc (UTC when nil).
func NewGenerator(counter Counter, loc *time.Location) *Generator {
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{counter: counter, location: loc}
}

// Bucket returns the counter key for prefix on the day containing at.
func (g *Generator) Bucket(prefix string, at time.Time) string {
	return prefix + "-" + at.In(g.location).Format("20060102")
}

// Next returns the next number for prefix on the day containing at.
func (g *Generator) Next(ctx context.Context, prefix string, at time.Time) (string, error) {
	if len(prefix) != 3 {
		return "", apperrors.New(apperrors.CodeValidation, fmt.Sprintf("number prefix %q must be three letters", prefix))
	}
	bucket := g.Bucket(prefix, at)
	n, err := g.counter.NextSequence(ctx, bucket)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodePersistence, "next sequence", err)
	}
	if n < 1 || n > MaxPerDay {
		return "", apperrors.New(apperrors.CodeSequenceExhausted, fmt.Sprintf("sequence for %s exhausted", bucket))
	}
	return fmt.Sprintf("%s-%05d", bucket, n), nil
}

// Valid reports whether number has the business number shape.
func Valid(number string) bool {
	return numberPattern.MatchString(number)
}

package ports

import (
	"context"
	"fmt"

	"github.com/har1eyk/led-reading-plugin/internal/domain"
)

// Acquirer performs exactly one blocking voltage read from the ADC driver.
// The returned SamplePoint carries the wall-clock time at which the read
// completed. Implementations own the ADC bus handle exclusively for the
// duration of the call.
type Acquirer interface {
	ReadVoltage(ctx context.Context, channel int) (domain.SamplePoint, error)
}

// AcquisitionError is a single-sample driver fault. Callers treat the
// failed sample as absent; it never aborts the burst.
type AcquisitionError struct {
	Channel int
	Err     error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire pd%d: %v", e.Channel, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

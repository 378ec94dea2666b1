package records

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/miradorstack/hostwatch/internal/models"
)

const fieldSep = '|'

var errCorrupt = errors.New("corrupt failure record")

// encodeRecord renders "<attemptCount>|<unixNanos>\n".
func encodeRecord(attemptCount int, at time.Time) []byte {
	buf := make([]byte, 0, 32)
	buf = strconv.AppendInt(buf, int64(attemptCount), 10)
	buf = append(buf, fieldSep)
	buf = strconv.AppendInt(buf, at.UnixNano(), 10)
	return append(buf, '\n')
}

func decodeRecord(service string, data []byte) (models.FailureRecord, error) {
	line := bytes.TrimSpace(data)
	count, ts, found := bytes.Cut(line, []byte{fieldSep})
	if !found {
		return models.FailureRecord{}, fmt.Errorf("%w: missing separator in %q", errCorrupt, line)
	}
	attempts, err := strconv.Atoi(string(count))
	if err != nil || attempts < 1 {
		return models.FailureRecord{}, fmt.Errorf("%w: attempt count %q", errCorrupt, count)
	}
	nanos, err := strconv.ParseInt(string(ts), 10, 64)
	if err != nil {
		return models.FailureRecord{}, fmt.Errorf("%w: timestamp %q", errCorrupt, ts)
	}
	return models.FailureRecord{
		Service:      service,
		AttemptCount: attempts,
		LastAttempt:  time.Unix(0, nanos),
	}, nil
}

package core

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/cgs-simulator/model"
)

// ErrMalformedPlanLine is returned for contact plan lines that cannot be parsed.
var ErrMalformedPlanLine = errors.New("malformed contact plan line")

// LoadIONContacts reads an ION-style contact plan:
//
//	a contact <start> <end> <from> <to> <rate> [owlt] [confidence]
//
// Times are seconds relative to epoch, rate is bytes per second and owlt is in
// seconds. Blank lines, comments (#) and non-contact commands are ignored.
// Contact ids are assigned as "c<line>".
func LoadIONContacts(r io.Reader, epoch time.Time) ([]model.Contact, error) {
	var contacts []model.Contact

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "a" || fields[1] != "contact" {
			continue
		}
		if len(fields) < 7 || len(fields) > 9 {
			return nil, fmt.Errorf("%w: line %d: expected 5 to 7 operands, got %d",
				ErrMalformedPlanLine, lineNo, len(fields)-2)
		}

		start, err := parseSeconds(fields[2])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: start: %v", ErrMalformedPlanLine, lineNo, err)
		}
		end, err := parseSeconds(fields[3])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: end: %v", ErrMalformedPlanLine, lineNo, err)
		}
		rate, err := strconv.ParseFloat(fields[6], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: rate: %v", ErrMalformedPlanLine, lineNo, err)
		}

		c := model.Contact{
			ID:         fmt.Sprintf("c%d", lineNo),
			From:       fields[4],
			To:         fields[5],
			Start:      epoch.Add(start),
			End:        epoch.Add(end),
			Rate:       rate,
			Confidence: 1,
		}
		if len(fields) >= 8 {
			owlt, err := parseSeconds(fields[7])
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: owlt: %v", ErrMalformedPlanLine, lineNo, err)
			}
			c.OWLT = owlt
		}
		if len(fields) == 9 {
			conf, err := strconv.ParseFloat(fields[8], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: confidence: %v", ErrMalformedPlanLine, lineNo, err)
			}
			c.Confidence = conf
		}
		contacts = append(contacts, c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read contact plan: %w", err)
	}
	return contacts, nil
}

// WriteIONContacts renders contacts in the format read by LoadIONContacts.
func WriteIONContacts(w io.Writer, contacts []model.Contact, epoch time.Time) error {
	bw := bufio.NewWriter(w)
	for _, c := range contacts {
		_, err := fmt.Fprintf(bw, "a contact %s %s %s %s %s %s %s\n",
			formatSeconds(c.Start.Sub(epoch)),
			formatSeconds(c.End.Sub(epoch)),
			c.From, c.To,
			strconv.FormatFloat(c.Rate, 'f', -1, 64),
			formatSeconds(c.OWLT),
			strconv.FormatFloat(c.Confidence, 'f', -1, 64))
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}

func parseSeconds(s string) (time.Duration, error) {
	s = strings.TrimPrefix(s, "+")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(v * float64(time.Second)), nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

package analyzer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"iter"
)

// Record is one line of a generate response.
type Record struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

const maxRecordBytes = 1 << 20

// Records lazily decodes newline-delimited JSON records from r. Blank and
// malformed lines are skipped. A read error is yielded once and ends the
// sequence. The sequence reads r directly and cannot be restarted.
func Records(r io.Reader) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			var rec Record
			if err := json.Unmarshal(line, &rec); err != nil {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(Record{}, err)
		}
	}
}

// Accumulate concatenates record text until a done record or the end of the
// stream. It returns the number of records that carried text.
func Accumulate(records iter.Seq2[Record, error], onRecord func()) (string, int, error) {
	var (
		buf    bytes.Buffer
		chunks int
	)
	for rec, err := range records {
		if err != nil {
			return buf.String(), chunks, err
		}
		if onRecord != nil {
			onRecord()
		}
		if rec.Response != "" {
			buf.WriteString(rec.Response)
			chunks++
		}
		if rec.Done {
			break
		}
	}
	return buf.String(), chunks, nil
}

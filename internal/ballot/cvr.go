package ballot

import (
	"encoding/csv"
	"io"
)

// CVRHeader 是导出文件的表头
var CVRHeader = []string{"ballot_id", "segment", "candidate", "created_at_minute"}

// WriteCVR 以CSV格式写出投票记录
func WriteCVR(w io.Writer, rows []CVRRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CVRHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.BallotID, r.Segment, r.Candidate, r.CreatedAtMinute}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

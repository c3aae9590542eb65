package extract

// UrgentKeyword escalates a notification when it appears in subject or body.
const UrgentKeyword = "大至急"

// Record is the structured result of reading one purchase email. An empty
// string means the field was not found.
type Record struct {
	RequestNumber string
	ItemName      string
	Remarks       string
	Urgency       string
	Office        string // submission office, e.g. 精密事務室(305号室)

	// Back-references to the source message, attached by the pipeline.
	Subject string
	Body    string
}

// Actionable reports whether the record identifies a purchase at all.
func (r Record) Actionable() bool {
	return r.ItemName != "" || r.RequestNumber != ""
}

// Urgent reports whether the record carries the urgency keyword.
func (r Record) Urgent() bool {
	return r.Urgency == UrgentKeyword
}

// fill copies every field of src that is still empty in r.
func (r *Record) fill(src Record) {
	fillString(&r.RequestNumber, src.RequestNumber)
	fillString(&r.ItemName, src.ItemName)
	fillString(&r.Remarks, src.Remarks)
	fillString(&r.Urgency, src.Urgency)
	fillString(&r.Office, src.Office)
}

func fillString(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}

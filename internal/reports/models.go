package reports

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

func (f Format) Valid() bool {
	return f == FormatCSV || f == FormatXLSX
}

var contentTypes = map[Format]string{
	FormatCSV:  "text/csv",
	FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// Artifact is a rendered file ready to be served or archived.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
}

package cold

// Row mirrors the hot memories schema plus archived_at (spec.md §4.5:
// "Schema mirrors the hot row schema plus archived_at"). Field tags follow
// xitongsys/parquet-go's struct-tag convention.
type Row struct {
	ID           int64  `parquet:"name=id, type=INT64"`
	ProjectID    int64  `parquet:"name=project_id, type=INT64"`
	Verbatim     string `parquet:"name=verbatim, type=BYTE_ARRAY, convertedtype=UTF8"`
	Gist         string `parquet:"name=gist, type=BYTE_ARRAY, convertedtype=UTF8"`
	Tags         string `parquet:"name=tags, type=BYTE_ARRAY, convertedtype=UTF8"`
	EventType    string `parquet:"name=event_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	FilePath     string `parquet:"name=file_path, type=BYTE_ARRAY, convertedtype=UTF8"`
	LineNumber   int32  `parquet:"name=line_number, type=INT32"`
	Language     string `parquet:"name=language, type=BYTE_ARRAY, convertedtype=UTF8"`
	Salience     string `parquet:"name=salience, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status       string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	Outcome      int32  `parquet:"name=outcome, type=INT32"`
	Fingerprint  string `parquet:"name=fingerprint, type=BYTE_ARRAY, convertedtype=UTF8"`
	RepeatCount  int32  `parquet:"name=repeat_count, type=INT32"`
	AccessCount  int32  `parquet:"name=access_count, type=INT32"`
	LastAccessed int64  `parquet:"name=last_accessed, type=INT64"`
	Pinned       bool   `parquet:"name=pinned, type=BOOLEAN"`
	CreatedAt    int64  `parquet:"name=created_at, type=INT64"`
	DecayReason  string `parquet:"name=decay_reason, type=BYTE_ARRAY, convertedtype=UTF8"`
	ArchivedAt   int64  `parquet:"name=archived_at, type=INT64"`
}

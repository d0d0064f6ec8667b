package httpapi

// Config defines HTTP gateway settings.
type Config struct {
	Addr             string
	UploadDir        string
	UploadMaxBytes   int64
	EventBufferLines int
}

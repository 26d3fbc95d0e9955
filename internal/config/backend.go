package config

// ConfigBackend is where `config set` persists keys between runs: the
// `defaults` domain on macOS, a JSON file elsewhere. Secrets never pass
// through it.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

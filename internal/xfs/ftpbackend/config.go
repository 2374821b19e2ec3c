package ftpbackend

// Config describes how to dial and authenticate against an FTP or FTPS
// server. Explicit is true for FTPS (AUTH TLS); plain FTP leaves it
// false.
type Config struct {
	Host string
	Port string // default "21"
	User string
	Password string

	Explicit bool // dial with AUTH TLS (FTPS) rather than plain FTP

	// StrictTLS enables certificate verification for FTPS. Off by
	// default: most of the self-hosted FTPS servers this backend talks
	// to present self-signed certificates, matching the teacher's own
	// default of InsecureSkipVerify.
	StrictTLS bool
}

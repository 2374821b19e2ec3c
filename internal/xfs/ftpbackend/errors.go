package ftpbackend

import (
	"net/textproto"
	"strings"

	"github.com/jlaffaye/ftp"

	"github.com/maponyatp/macscp/internal/xfs"
)

// textprotoError unwraps the *textproto.Error a jlaffaye/ftp call wraps
// its FTP status codes in, if any.
func textprotoError(err error) *textproto.Error {
	if err == nil {
		return nil
	}
	tpErr, ok := err.(*textproto.Error)
	if ok {
		return tpErr
	}
	return nil
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "connection is already closed") {
		return xfs.ErrNotConnected
	}
	if tpErr := textprotoError(err); tpErr != nil {
		switch tpErr.Code {
		case 530:
			return xfs.New(xfs.KindAuthFailed, "ftp login rejected", err)
		case ftp.StatusFileUnavailable, ftp.StatusFileActionIgnored, 450:
			return xfs.New(xfs.KindNotFound, "ftp path not found", err)
		case 532, 534:
			return xfs.New(xfs.KindPermission, "ftp action denied", err)
		}
	}
	return xfs.New(xfs.KindProtocol, "ftp operation failed", err)
}

func classifyDialErr(err error) error {
	if err == nil {
		return nil
	}
	if tpErr := textprotoError(err); tpErr != nil && tpErr.Code == 530 {
		return xfs.New(xfs.KindAuthFailed, "ftp login rejected", err)
	}
	return xfs.New(xfs.KindNetworkUnreachable, "ftp dial failed", err)
}

// mkdirAlreadyExists reports whether err is the "directory already
// exists" flavour of FTP status the teacher's mkdir tolerates rather
// than propagates, per server-specific status code variance (550 is
// the common one, some servers use 521).
func mkdirAlreadyExists(err error) bool {
	tpErr := textprotoError(err)
	if tpErr == nil {
		return false
	}
	return tpErr.Code == 550 || tpErr.Code == 521
}

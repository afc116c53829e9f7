package xmds

import (
	"errors"
	"fmt"
)

var errNotSuccessful = errors.New("CMS reported failure")

// TransportError means the CMS could not be reached or did not answer with
// a SOAP document.
type TransportError struct {
	Call string
	Err  error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "xmds transport error"
	}
	return fmt.Sprintf("xmds %s: transport: %v", e.Call, e.Err)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// FaultError means the CMS answered but the answer was a SOAP fault, could
// not be decoded, or reported success=false.
type FaultError struct {
	Call  string
	Fault string
	Err   error
}

func (e *FaultError) Error() string {
	if e == nil {
		return "xmds fault"
	}
	if e.Fault != "" {
		return fmt.Sprintf("xmds %s: SOAP fault: %s", e.Call, e.Fault)
	}
	return fmt.Sprintf("xmds %s: %v", e.Call, e.Err)
}

func (e *FaultError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsConnectivity reports whether err is a connectivity failure rather than
// a protocol-level rejection.
func IsConnectivity(err error) bool {
	var terr *TransportError
	return errors.As(err, &terr)
}

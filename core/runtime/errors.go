package runtime

import "errors"

var (
	ErrAccountNotDeclared    = errors.New("runtime: account not declared by invocation")
	ErrAccountReadOnly       = errors.New("runtime: account declared read-only")
	ErrAccountNotFound       = errors.New("runtime: account not found")
	ErrAccountExists         = errors.New("runtime: account already exists")
	ErrAccountNotInitialized = errors.New("runtime: account not initialized")
	ErrInvalidAccountOwner   = errors.New("runtime: account owned by another program")
	ErrInsufficientFunds     = errors.New("runtime: insufficient lamports")
	ErrInsufficientBalance   = errors.New("runtime: insufficient token balance")
	ErrUnauthorized          = errors.New("runtime: missing required authority")
	ErrMintMismatch          = errors.New("runtime: token accounts belong to different mints")
	ErrNonZeroBalance        = errors.New("runtime: token account still holds a balance")
	ErrDataSize              = errors.New("runtime: data does not match allocated size")
	ErrOverflow              = errors.New("runtime: amount overflow")
	ErrSelfTransfer          = errors.New("runtime: source and destination are the same account")
)

package transaction

import "errors"

var (
	// ErrSealed is returned when a transaction is modified after it was
	// handed to a writer.
	ErrSealed = errors.New("entitysync: transaction is sealed")

	// ErrBagDeleted is returned when changes are added to a deleting bag.
	ErrBagDeleted = errors.New("entitysync: bag deletes its targets and cannot carry changes")

	// ErrBagHasChanges is returned when a bag with changes is asked to delete.
	ErrBagHasChanges = errors.New("entitysync: bag carries changes and cannot delete")

	// ErrNilHolder is returned when a nil holder is used as a reference.
	ErrNilHolder = errors.New("entitysync: nil holder")

	// ErrForeignHolder is returned when a holder from another transaction is used.
	ErrForeignHolder = errors.New("entitysync: holder belongs to another transaction")
)

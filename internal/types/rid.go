package types

import "fmt"

// PageID identifies a fixed-size page within the database file.
type PageID uint32

// InvalidPageID is the null page pointer.
const InvalidPageID PageID = 0

// TxnID identifies a transaction.
type TxnID uint64

// InvalidTxnID is the null transaction identifier.
const InvalidTxnID TxnID = 0

// LSN is a monotonically increasing Log Sequence Number.
type LSN uint64

// InvalidLSN terminates a transaction's prev-LSN chain.
const InvalidLSN LSN = 0

// RID (record identifier) locates a row: (page_id, slot_num).
type RID struct {
	PageID PageID
	Slot   uint32
}

// InvalidRID is the sentinel (U32_MAX, U32_MAX).
var InvalidRID = RID{PageID: PageID(^uint32(0)), Slot: ^uint32(0)}

func (r RID) IsValid() bool { return r != InvalidRID }

func (r RID) String() string { return fmt.Sprintf("(%d,%d)", r.PageID, r.Slot) }

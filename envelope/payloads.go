package envelope

import "time"

// Amount is a currency code plus decimal value, kept as its wire string to
// avoid float rounding of monetary values.
type Amount struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

// Extension is one {key, value} pair of an ordered extension list.
type Extension struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// TransferPrepare is the payload of a prepare message.
type TransferPrepare struct {
	TransferID     string      `json:"transferId"`
	PayerFsp       string      `json:"payerFsp"`
	PayeeFsp       string      `json:"payeeFsp"`
	Amount         Amount      `json:"amount"`
	ILPPacket      string      `json:"ilpPacket"`
	Condition      string      `json:"condition"`
	ExpirationDate time.Time   `json:"expirationDate"`
	ExtensionList  []Extension `json:"extensionList,omitempty"`
}

// TransferFulfil is the payload of a fulfil (commit or reject) message.
type TransferFulfil struct {
	Fulfilment         string      `json:"fulfilment,omitempty"`
	CompletedTimestamp time.Time   `json:"completedTimestamp"`
	ExtensionList      []Extension `json:"extensionList,omitempty"`
}

// TransferSnapshot is the payload of a prepare-duplicate notification: the
// current view of an already-finalized transfer, returned to a replaying
// sender instead of re-running the prepare.
type TransferSnapshot struct {
	TransferID         string     `json:"transferId"`
	TransferState      string     `json:"transferState"`
	Fulfilment         string     `json:"fulfilment,omitempty"`
	CompletedTimestamp *time.Time `json:"completedTimestamp,omitempty"`
}

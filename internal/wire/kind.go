package wire

import "fmt"

// Kind identifies the type of a message carried in an Envelope.
type Kind int32

const (
	KindUnknown Kind = iota

	// Quorum KV, replica to replica.
	KindGetVersion
	KindGetVersionResponse
	KindVersionedSetValue
	KindSetValueResponse
	KindVersionedGetValue
	KindGetValueResponse

	// Client requests.
	KindClientSetValue
	KindClientGetValue

	// Paxos.
	KindPrepare
	KindPrepareResponse
	KindAccept
	KindAcceptResponse

	// Two-phase commit.
	KindPropose
	KindProposeResponse
	KindCommit
	KindCommitResponse
	KindExecuteCommand
	KindExecuteCommandResponse
	KindAbort
	KindAbortResponse
)

var kindNames = map[Kind]string{
	KindUnknown:                "Unknown",
	KindGetVersion:             "GetVersion",
	KindGetVersionResponse:     "GetVersionResponse",
	KindVersionedSetValue:      "VersionedSetValue",
	KindSetValueResponse:       "SetValueResponse",
	KindVersionedGetValue:      "VersionedGetValue",
	KindGetValueResponse:       "GetValueResponse",
	KindClientSetValue:         "ClientSetValue",
	KindClientGetValue:         "ClientGetValue",
	KindPrepare:                "Prepare",
	KindPrepareResponse:        "PrepareResponse",
	KindAccept:                 "Accept",
	KindAcceptResponse:         "AcceptResponse",
	KindPropose:                "Propose",
	KindProposeResponse:        "ProposeResponse",
	KindCommit:                 "Commit",
	KindCommitResponse:         "CommitResponse",
	KindExecuteCommand:         "ExecuteCommand",
	KindExecuteCommandResponse: "ExecuteCommandResponse",
	KindAbort:                  "Abort",
	KindAbortResponse:          "AbortResponse",
}

// String returns the string representation of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int32(k))
}

var responseKinds = map[Kind]Kind{
	KindGetVersion:        KindGetVersionResponse,
	KindVersionedSetValue: KindSetValueResponse,
	KindVersionedGetValue: KindGetValueResponse,
	KindClientSetValue:    KindSetValueResponse,
	KindClientGetValue:    KindGetValueResponse,
	KindPrepare:           KindPrepareResponse,
	KindAccept:            KindAcceptResponse,
	KindPropose:           KindProposeResponse,
	KindCommit:            KindCommitResponse,
	KindExecuteCommand:    KindExecuteCommandResponse,
	KindAbort:             KindAbortResponse,
}

// Response returns the kind answering a request of kind k, or KindUnknown
// if k is not a request.
func (k Kind) Response() Kind {
	return responseKinds[k]
}

package saconsensus

import (
	"fmt"
)

// Topic identifies a message's payload variant on the wire.
type Topic uint8

const (
	TopicCandidate     Topic = 15
	TopicNewBlock      Topic = 16
	TopicReduction     Topic = 17
	TopicAgreement     Topic = 18
	TopicAggrAgreement Topic = 19

	// TopicUnknown is what any unrecognized topic byte decodes to.
	TopicUnknown Topic = 100
)

// TopicFromByte maps a wire byte to a Topic,
// decoding unrecognized values as [TopicUnknown].
func TopicFromByte(b byte) Topic {
	switch t := Topic(b); t {
	case TopicCandidate, TopicNewBlock, TopicReduction, TopicAgreement, TopicAggrAgreement:
		return t
	default:
		return TopicUnknown
	}
}

func (t Topic) String() string {
	switch t {
	case TopicCandidate:
		return "Candidate"
	case TopicNewBlock:
		return "NewBlock"
	case TopicReduction:
		return "Reduction"
	case TopicAgreement:
		return "Agreement"
	case TopicAggrAgreement:
		return "AggrAgreement"
	default:
		return "Unknown"
	}
}

// Header is the signed envelope of every consensus message.
type Header struct {
	PubKeyBLS []byte
	Round     uint64
	Step      uint8
	BlockHash Hash
	Topic     Topic
}

// Payload is the tagged union of message bodies.
// Each variant reports the topic it is carried under.
type Payload interface {
	Topic() Topic
}

// NewBlock carries the Selection generator's candidate.
type NewBlock struct {
	Candidate Block
	Signature []byte
}

// Reduction is a single reduction vote.
type Reduction struct {
	Signature []byte
}

// Agreement certifies that the sender observed both reduction quorums for a hash.
type Agreement struct {
	Signature []byte

	FirstReduction  StepVotes
	SecondReduction StepVotes
}

// AggrAgreement folds a quorum of Agreement signatures for one hash
// into a single aggregate signature plus a bitset over the agreement committee.
type AggrAgreement struct {
	Agreement Agreement

	Bitset             uint64
	AggregateSignature []byte
}

// Candidate relays a full candidate block outside of Selection,
// so that nodes missing the winning block can finalize.
type Candidate struct {
	Block Block
}

// Unknown is the payload of a message whose topic was not recognized.
type Unknown struct{}

func (NewBlock) Topic() Topic      { return TopicNewBlock }
func (Reduction) Topic() Topic     { return TopicReduction }
func (Agreement) Topic() Topic     { return TopicAgreement }
func (AggrAgreement) Topic() Topic { return TopicAggrAgreement }
func (Candidate) Topic() Topic     { return TopicCandidate }
func (Unknown) Topic() Topic       { return TopicUnknown }

// Message is a header plus payload.
// Use [NewMessage] so that the header topic always matches the payload.
type Message struct {
	Header  Header
	Payload Payload
}

// NewMessage returns a Message whose header topic is set from p.
func NewMessage(h Header, p Payload) Message {
	h.Topic = p.Topic()
	return Message{Header: h, Payload: p}
}

// Validate checks the invariant that the header topic matches the payload variant.
func (m Message) Validate() error {
	if m.Payload == nil {
		return fmt.Errorf("%w: missing payload", ErrInvalidMsgType)
	}
	if m.Payload.Topic() != m.Header.Topic {
		return fmt.Errorf(
			"%w: header topic %s does not match payload %T",
			ErrInvalidMsgType, m.Header.Topic, m.Payload,
		)
	}
	return nil
}

// Signature returns the sender's vote signature for payloads that carry one,
// or nil otherwise.
func (m Message) Signature() []byte {
	switch p := m.Payload.(type) {
	case NewBlock:
		return p.Signature
	case Reduction:
		return p.Signature
	case Agreement:
		return p.Signature
	default:
		return nil
	}
}

// SignBytes returns the vote bytes the header's sender signed.
func (h Header) SignBytes() []byte {
	return VoteSignBytes(h.Round, h.Step, h.BlockHash)
}

// Compare orders h against a (round, step) pair:
// -1 if h is in the past, 1 if h is in the future, 0 if equal.
func (h Header) Compare(round uint64, step uint8) int {
	switch {
	case h.Round < round:
		return -1
	case h.Round > round:
		return 1
	case h.Step < step:
		return -1
	case h.Step > step:
		return 1
	default:
		return 0
	}
}

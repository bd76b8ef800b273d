// Package message defines the contract between the halirc core and device
// drivers for the commands and answers exchanged with an appliance.
//
// Every message exists in two forms: the decoded form a human writes in a
// trigger or timer definition ("power:on", "MV40", "outlet2:off") and the
// encoded form that goes over the wire ("ka 01 01", "MV40", "-f 2"). A
// driver supplies a Codec that derives one form from the other; the core
// only ever calls through the Message interface.
//
// # Construction
//
//	msg, err := message.New(codec, "power:on", "")   // from the human form
//	ans, err := message.New(codec, "", "a 01 OK01")  // from wire data
//
// Exactly one form must be non-empty.
//
// # Matching
//
// AnswerMatches decides whether a line read from the device answers the
// running request. Matches decides whether an event satisfies a trigger
// pattern; drivers with wildcard semantics implement Matcher.
package message

// Package multipart splits payloads that exceed a transport's maximum message
// size into self-describing fragments, and reassembles them on the receiving
// side.
//
// A fragment body is a header followed by the raw slice bytes:
//
//	multipart#<index>/<total>|<slice>
//
// where index is 1-based and both numbers are plain decimal. Bodies that fit
// in a single message are sent unmodified and carry no header.
//
// Every fragment reserves HeaderBudget bytes for its header, which is the
// length of the largest header the format allows, so fragments never exceed
// the limit they were encoded for. Fragments may arrive in any order and
// duplicates overwrite the slot they target. The Reassembler keeps one buffer
// per sender until every slot is filled, or until Purge expires it.
package multipart

package constants

const (
	MsgPointNotFound      = "Timeline point not found"
	MsgMutationNotFound   = "Pending mutation not found"
	MsgInvalidCoordinates = "Latitude or longitude out of range"
	MsgNoFields           = "No fields to update"
	MsgUnknownProvider    = "Unknown location provider"
)

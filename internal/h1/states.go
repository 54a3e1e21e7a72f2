package h1

type parserState uint8

const (
	stateStart parserState = iota
	stateMethod
	stateURLStart
	stateURL
	stateVersion
	stateVersionMajor
	stateVersionDot
	stateVersionMinor
	stateVersionCR
	stateRequestLineLF
	stateHeaderFieldStart
	stateHeaderField
	stateHeaderValueStart
	stateHeaderValue
	stateHeaderValueLF
	stateHeadersLF
	stateBody
	stateChunkSize
	stateChunkExt
	stateChunkSizeLF
	stateChunkData
	stateChunkDataCR
	stateChunkDataLF
	stateTrailerStart
	stateTrailerLine
	stateTrailerLineLF
	stateTrailerLF
	stateClosed
	stateDead
)

type headerKind uint8

const (
	headerOther headerKind = iota
	headerContentLength
	headerTransferEncoding
	headerConnection
)

type connState uint8

const (
	connActive connState = iota
	connClosing
	connClosed
)

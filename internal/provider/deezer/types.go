package deezer

// searchResponse is the JSON response from the Deezer artist search endpoint.
// Deezer reports quota and parameter problems with HTTP 200 and an error object.
type searchResponse struct {
	Data  []artistResult `json:"data"`
	Total int            `json:"total"`
	Next  string         `json:"next,omitempty"`
	Error *apiError      `json:"error,omitempty"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// artistResult is a single artist entry from a Deezer search.
type artistResult struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Link       string `json:"link"`
	Picture    string `json:"picture"`
	PictureBig string `json:"picture_big"`
	PictureXL  string `json:"picture_xl"`
	NbAlbum    int    `json:"nb_album"`
	NbFan      int    `json:"nb_fan"`
	Type       string `json:"type"`
}

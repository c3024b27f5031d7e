package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"html/template"
	"image"
	"io"
	"net/http"
	"os"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/lesion-api/internal/lesion"
)

// Classifier is the part of the inference pipeline the handlers need.
type Classifier interface {
	Predict(img image.Image) (lesion.Prediction, error)
}

type Handler struct {
	classifier    Classifier
	logger        logrus.FieldLogger
	maxUploadSize int64
	logoPath      string
	pages         *template.Template
}

func NewHandler(classifier Classifier, logger logrus.FieldLogger, maxUploadSize int64, logoPath string) *Handler {
	return &Handler{
		classifier:    classifier,
		logger:        logger,
		maxUploadSize: maxUploadSize,
		logoPath:      logoPath,
		pages:         template.Must(template.New("pages").Parse(pageTemplates)),
	}
}

// PredictionResponse is the JSON form of a classification.
type PredictionResponse struct {
	Probability float32      `json:"probability"`
	Percentage  float32      `json:"percentage"`
	Label       lesion.Label `json:"label"`
}

type pageData struct {
	HasLogo    bool
	Error      string
	Result     *resultData
	ClassTable []classRow
}

type resultData struct {
	Preview   template.URL
	Filename  string
	Summary   string
	Malignant bool
}

type classRow struct {
	Code, Name, Group string
}

// ham10000Groups is how the seven HAM10000 diagnoses were folded into the two
// classes the model predicts.
var ham10000Groups = []classRow{
	{"AKIEC", "Actinic keratosis", "malignant"},
	{"BCC", "Basal cell carcinoma", "malignant"},
	{"BKL", "Benign keratosis", "benign"},
	{"DF", "Dermatofibroma", "benign"},
	{"MEL", "Melanoma", "malignant"},
	{"NV", "Melanocytic nevus", "benign"},
	{"VASC", "Vascular lesion", "malignant (to keep false negatives down)"},
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Home renders the landing page.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	h.render(w, r, http.StatusOK, "home", pageData{ClassTable: ham10000Groups})
}

// DetectForm renders the upload form.
func (h *Handler) DetectForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "detect", pageData{})
}

// Detect classifies an uploaded image and renders it back with the result.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r, h.logger)

	upload, err := h.readUpload(w, r)
	if err != nil {
		log.WithError(err).Warn("Rejected upload")
		h.render(w, r, http.StatusBadRequest, "detect", pageData{Error: uploadErrorMessage(err)})
		return
	}

	prediction, err := h.classify(upload, log)
	if err != nil {
		status, msg := classifyErrorStatus(err)
		h.render(w, r, status, "detect", pageData{Error: msg})
		return
	}

	h.render(w, r, http.StatusOK, "detect", pageData{Result: &resultData{
		Preview:   template.URL("data:" + upload.contentType + ";base64," + base64.StdEncoding.EncodeToString(upload.data)),
		Filename:  upload.filename,
		Summary:   summary(prediction),
		Malignant: prediction.Label == lesion.Malignant,
	}})
}

// PredictFromImage is the JSON variant of Detect.
func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r, h.logger)

	upload, err := h.readUpload(w, r)
	if err != nil {
		log.WithError(err).Warn("Rejected upload")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": uploadErrorMessage(err)})
		return
	}

	prediction, err := h.classify(upload, log)
	if err != nil {
		status, msg := classifyErrorStatus(err)
		writeJSON(w, status, map[string]string{"error": msg})
		return
	}

	writeJSON(w, http.StatusOK, PredictionResponse{
		Probability: prediction.Probability,
		Percentage:  prediction.Percentage(),
		Label:       prediction.Label,
	})
}

// Logo serves the logo downloaded at start, if there is one.
func (h *Handler) Logo(w http.ResponseWriter, r *http.Request) {
	if !h.hasLogo() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, h.logoPath)
}

type upload struct {
	data        []byte
	filename    string
	contentType string
}

var errNoImage = errors.New("no image file provided")

func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		return nil, errors.Wrap(err, "failed to parse form")
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, errNoImage
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read upload")
	}

	requestLogger(r, h.logger).WithFields(logrus.Fields{
		"filename": header.Filename,
		"size":     units.HumanSize(float64(len(data))),
	}).Info("Received file")

	return &upload{
		data:        data,
		filename:    header.Filename,
		contentType: http.DetectContentType(data),
	}, nil
}

func (h *Handler) classify(u *upload, log logrus.FieldLogger) (lesion.Prediction, error) {
	img, format, err := lesion.DecodeBytes(u.data)
	if err != nil {
		log.WithError(err).Warn("Could not decode upload")
		return lesion.Prediction{}, err
	}
	log = log.WithFields(logrus.Fields{
		"format": format,
		"width":  img.Bounds().Dx(),
		"height": img.Bounds().Dy(),
	})

	prediction, err := h.classifier.Predict(img)
	if err != nil {
		log.WithError(err).Error("Prediction failed")
		return lesion.Prediction{}, err
	}

	log.WithFields(logrus.Fields{
		"probability": prediction.Probability,
		"label":       prediction.Label,
	}).Info("Classified upload")
	return prediction, nil
}

func (h *Handler) hasLogo() bool {
	if h.logoPath == "" {
		return false
	}
	info, err := os.Stat(h.logoPath)
	return err == nil && !info.IsDir()
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, page string, data pageData) {
	data.HasLogo = h.hasLogo()

	var buf bytes.Buffer
	if err := h.pages.ExecuteTemplate(&buf, page, data); err != nil {
		requestLogger(r, h.logger).WithError(err).Error("Failed to render page")
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func summary(p lesion.Prediction) string {
	return formatPercentage(p.Percentage()) + "% probability of malignant"
}

func uploadErrorMessage(err error) string {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return "The image is too large. The limit is " + units.HumanSize(float64(maxErr.Limit)) + "."
	case errors.Is(err, errNoImage):
		return "No image file provided. Use 'image' as the form field name."
	default:
		return "The upload could not be read."
	}
}

func classifyErrorStatus(err error) (int, string) {
	if errors.Is(err, lesion.ErrUnsupportedImage) {
		return http.StatusBadRequest, "Unsupported or corrupt image. Upload a JPEG or PNG file."
	}
	return http.StatusInternalServerError, "Prediction failed"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

package handlers

const pageTemplates = `
{{define "header"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Skin Lesion Detection</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; color: #222; }
nav a { margin-right: 1rem; }
img.preview { max-width: 100%; border: 1px solid #ccc; }
img.logo { max-height: 4rem; }
.error { color: #b00020; }
.malignant { color: #b00020; font-weight: bold; }
.benign { color: #1b5e20; font-weight: bold; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 0.25rem 0.5rem; text-align: left; }
</style>
</head>
<body>
{{if .HasLogo}}<img class="logo" src="/logo" alt="logo">{{end}}
<nav><a href="/">Home</a><a href="/detect">Lesion detection: benign or malignant</a></nav>
{{end}}

{{define "footer"}}
</body>
</html>
{{end}}

{{define "home"}}{{template "header" .}}
<h1>Skin Lesion Detection</h1>
<p>This tool estimates whether a skin lesion is benign or malignant. The
classifier is a deep convolutional network trained on the HAM10000 dataset
("Human Against Machine with 10000 training images") collected by the
International Skin Imaging Collaboration: 10,599 dermatoscopic images labelled
with seven lesion types.</p>
<p>For training, the seven diagnoses were grouped into two classes:</p>
<table>
<tr><th>Code</th><th>Diagnosis</th><th>Class</th></tr>
{{range .ClassTable}}<tr><td>{{.Code}}</td><td>{{.Name}}</td><td>{{.Group}}</td></tr>
{{end}}</table>
<p>The output is a model estimate, not a diagnosis.</p>
{{template "footer" .}}{{end}}

{{define "detect"}}{{template "header" .}}
<h1>Lesion detection: benign or malignant</h1>
<p>Tip: keep the lesion centered and let it fill most of the picture, even if
that lowers the image quality.</p>
<form action="/detect" method="post" enctype="multipart/form-data">
<input type="file" name="image" accept=".jpg,.jpeg,.png,image/jpeg,image/png" required>
<button type="submit">Upload for detection</button>
</form>
{{with .Error}}<p class="error">{{.}}</p>{{end}}
{{with .Result}}
<figure>
<img class="preview" src="{{.Preview}}" alt="Uploaded image">
<figcaption>Uploaded image{{with .Filename}}: {{.}}{{end}}</figcaption>
</figure>
<p>Prediction: {{.Summary}}</p>
{{if .Malignant}}<p>The model predicts the lesion is <span class="malignant">Malignant</span>.</p>
{{else}}<p>The model predicts the lesion is <span class="benign">Benign</span>.</p>{{end}}
{{end}}
{{template "footer" .}}{{end}}
`

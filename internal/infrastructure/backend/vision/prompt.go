package vision

const systemPrompt = "You are an expert at extracting data from technical documents, " +
	"specifications, and invoices. Extract data accurately and format it as requested."

// defaultPrompt drives markdown-table extraction when the caller supplies
// no custom prompt of their own.
const defaultPrompt = `First, analyze the document to determine the most appropriate headers for the tables.
Generate a descriptive h1 for the overall document, followed by a brief summary of the data it contains.
For each identified table, create an informative h2 title and a concise description of its contents.
Finally, output the markdown representation of each table.
Make sure to escape the markdown table properly, and make sure to include the caption and the dataframe,
including escaping all the newlines and quotes. Only return a markdown table in dataframe, nothing else.`

func promptFor(custom string) string {
	if custom != "" {
		return custom
	}
	return defaultPrompt
}

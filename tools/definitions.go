package tools

// AllTools contains all tool specifications served by wikicat.
// Descriptions follow a fixed layout for LLM tool selection:
// USE WHEN, NOT FOR, PARAMETERS, RETURNS.
var AllTools = []ToolSpec{
	{
		Name:     "wiki_list_category_members",
		Method:   "ListCategoryMembers",
		Title:    "List Category Members",
		Category: "categories",
		Description: `List EVERY page title in a wiki category, following pagination to the end.

USE WHEN: User asks "which pages are in category X", "list all Mandarin idioms on Wiktionary", "how many pages does Category:X have".

NOT FOR: Subcategories or files (only content pages are listed), or reading page text.

PARAMETERS:
- category: Category title, with or without the "Category:" prefix (required)
- batch_size: Members requested per API call (default 500, max 500)

RETURNS: Normalized category name, member count, number of API pages fetched, and all titles in wiki order. Results are cached for 10 minutes.`,
		ReadOnly:   true,
		Idempotent: true,
		OpenWorld:  true,
	},
}

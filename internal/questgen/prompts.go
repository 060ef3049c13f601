package questgen

const creatorInstruction = `You create one daily quest for the user that moves them toward their career goals.
Use the career goals and memory below. Answer with a single JSON object and nothing else:
{"title": string, "description": string, "recommend": "1"-"5", "category": string, "estimated_time": minutes as integer}`

const criticInstruction = `You review a daily quest written as JSON.
Check that it is concrete, achievable within the estimated time and useful for a working engineer.
List the problems you find as short bullet points. If there are none, answer "No major issues."`

const reviserInstruction = `You revise a daily quest written as JSON using the review below.
If the review reports no major issues, call the exit_loop tool with the quest JSON as completed_quest.
Otherwise answer with the improved quest as a single JSON object and nothing else.`
